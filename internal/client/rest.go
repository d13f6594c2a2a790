package client

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opsdesk/internal/model"
)

// Signer produces the per-request HMAC signature the API's session middleware
// verifies: HMAC-SHA256(method+path+body+timestamp) with the session secret.
type Signer struct {
	SessionID string
	Secret    []byte
}

func (s *Signer) sign(method, path string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write([]byte(method + path + string(body) + timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedWSURL builds the upgrade URL with auth in the query string (browser
// WebSocket API cannot set headers). Call per dial: the signature embeds a
// timestamp the server only accepts within its skew window.
func (s *Signer) SignedWSURL(base, namespace string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	q := u.Query()
	if namespace != "" {
		q.Set("namespace", namespace)
	}
	q.Set("session_id", s.SessionID)
	q.Set("timestamp", ts)
	q.Set("signature", s.sign(http.MethodGet, u.Path, nil, ts))
	u.RawQuery = q.Encode()
	return u.String()
}

// RESTClient is the request/response channel to the API: the ledger's
// fallback send path and the aggregator's fetch-then-resync source.
type RESTClient struct {
	baseURL    string
	signer     *Signer
	httpClient *http.Client
}

func NewRESTClient(baseURL string, signer *Signer) *RESTClient {
	return &RESTClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		signer:  signer,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.signer != nil {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set("X-Session-Id", c.signer.SessionID)
		req.Header.Set("X-Timestamp", ts)
		req.Header.Set("X-Signature", c.signer.sign(method, path, payload, ts))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SendMessage persists a message over HTTP and returns the confirmed Message.
func (c *RESTClient) SendMessage(ctx context.Context, chatSupportID, body string) (*model.Message, error) {
	var m model.Message
	err := c.do(ctx, http.MethodPost, "/api/chats/"+chatSupportID+"/messages",
		map[string]string{"body": body}, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessages fetches the authoritative transcript for a conversation.
func (c *RESTClient) GetMessages(ctx context.Context, chatSupportID string) ([]model.Message, error) {
	var messages []model.Message
	if err := c.do(ctx, http.MethodGet, "/api/chats/"+chatSupportID+"/messages", nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// ListChats fetches the ticket list.
func (c *RESTClient) ListChats(ctx context.Context) ([]model.ChatSupportListItem, error) {
	var items []model.ChatSupportListItem
	if err := c.do(ctx, http.MethodGet, "/api/chats", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// MarkRead marks the conversation's user messages as read.
func (c *RESTClient) MarkRead(ctx context.Context, chatSupportID string) error {
	return c.do(ctx, http.MethodPost, "/api/chats/"+chatSupportID+"/read", nil, nil)
}
