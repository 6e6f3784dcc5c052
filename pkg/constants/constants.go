package constants

type contextKey string

const (
	TxKey        contextKey = "tx"
	PoolKey      contextKey = "pool"
	TenantIDKey  contextKey = "tenant_id"
	LoggerKey    contextKey = "logger"
	RequestIDKey contextKey = "request_id"
)
