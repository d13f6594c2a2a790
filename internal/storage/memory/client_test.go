package memory

import (
	"context"
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	c := New()
	ctx := context.Background()

	if err := c.SetSessionSecret(ctx, "s1", "secret-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := c.GetSessionSecret(ctx, "s1")
	if err != nil || got != "secret-1" {
		t.Fatalf("get = %q, %v", got, err)
	}

	if err := c.DeleteSessionSecret(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = c.GetSessionSecret(ctx, "s1")
	if err != nil || got != "" {
		t.Fatalf("get after delete = %q, %v", got, err)
	}
}

func TestGetUnknownSession(t *testing.T) {
	c := New()
	got, err := c.GetSessionSecret(context.Background(), "missing")
	if err != nil || got != "" {
		t.Fatalf("get = %q, %v, want empty", got, err)
	}
}

func TestExpiredSecret(t *testing.T) {
	c := New()
	c.secrets["s1"] = item{val: "old", exp: time.Now().Add(-time.Minute)}

	got, err := c.GetSessionSecret(context.Background(), "s1")
	if err != nil || got != "" {
		t.Fatalf("get = %q, %v, want empty for expired secret", got, err)
	}
}
