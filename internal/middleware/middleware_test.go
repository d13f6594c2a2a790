package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() (http.Handler, *int) {
	calls := new(int)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
	}), calls
}

func TestInternalOnlyPrivateIP(t *testing.T) {
	next, calls := okHandler()
	h := InternalOnly(next)

	cases := []struct {
		name   string
		remote string
		real   string
		want   int
	}{
		{"loopback", "127.0.0.1:5000", "", http.StatusOK},
		{"private 10.x", "10.1.2.3:5000", "", http.StatusOK},
		{"private 192.168", "", "192.168.0.7", http.StatusOK},
		{"public", "8.8.8.8:5000", "", http.StatusForbidden},
		{"public via header", "127.0.0.1:5000", "8.8.8.8", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal/events/job", nil)
			req.RemoteAddr = tc.remote
			if tc.real != "" {
				req.Header.Set("X-Real-Ip", tc.real)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
	if *calls != 3 {
		t.Fatalf("handler called %d times, want 3", *calls)
	}
}

func TestInternalOnlySecretHeader(t *testing.T) {
	t.Setenv("INTERNAL_EVENTS_SECRET", "sekret")
	next, _ := okHandler()
	h := InternalOnly(next)

	req := httptest.NewRequest(http.MethodPost, "/internal/events/alert", nil)
	req.RemoteAddr = "8.8.8.8:5000"
	req.Header.Set("X-Internal-Secret", "sekret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with correct secret", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/internal/events/alert", nil)
	req.RemoteAddr = "8.8.8.8:5000"
	req.Header.Set("X-Internal-Secret", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 with wrong secret", rec.Code)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		if !rl.allow("k") {
			t.Fatalf("request %d rejected under the limit", i)
		}
	}
	if rl.allow("k") {
		t.Fatal("request over the limit allowed")
	}
	// Other keys are independent.
	if !rl.allow("other") {
		t.Fatal("independent key rejected")
	}

	time.Sleep(60 * time.Millisecond)
	if !rl.allow("k") {
		t.Fatal("request rejected after the window expired")
	}
}

func TestMaskSessionID(t *testing.T) {
	cases := map[string]string{
		"":                 "****",
		"ab":               "****",
		"abcd1234-ef":      "abcd***",
		"  abcd1234-ef  ":  "abcd***",
		"full-session-id0": "full***",
	}
	for in, want := range cases {
		if got := MaskSessionID(in); got != want {
			t.Fatalf("MaskSessionID(%q) = %q, want %q", in, got, want)
		}
	}
}
