package middleware

import "context"

type contextKey string

const (
	AdminIDKey   contextKey = "admin_id"
	AdminNameKey contextKey = "admin_name"
	SessionIDKey contextKey = "session_id"
)

// GetAdminID возвращает admin_id из контекста (устанавливается SessionAuth).
func GetAdminID(ctx context.Context) string {
	v, _ := ctx.Value(AdminIDKey).(string)
	return v
}

// GetAdminName возвращает отображаемое имя админа из контекста.
func GetAdminName(ctx context.Context) string {
	v, _ := ctx.Value(AdminNameKey).(string)
	return v
}

func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(SessionIDKey).(string)
	return v
}
