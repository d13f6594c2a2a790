package storage

import "context"

// SessionSecretStore — хранилище HMAC-секретов админских сессий.
// Реализации: redis.Client, memory.Client (для -dev без Redis).
type SessionSecretStore interface {
	SetSessionSecret(ctx context.Context, sessionID, secret string) error
	GetSessionSecret(ctx context.Context, sessionID string) (string, error)
	DeleteSessionSecret(ctx context.Context, sessionID string) error
	Close() error
}
