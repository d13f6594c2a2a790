package model

import "time"

// Session is an authenticated admin session. The HMAC secret itself lives in
// the session store (Redis), only its hash is persisted here.
type Session struct {
	ID         string     `json:"id"`
	AdminID    string     `json:"admin_id"`
	AdminName  string     `json:"admin_name"`
	SecretHash string     `json:"-"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}
