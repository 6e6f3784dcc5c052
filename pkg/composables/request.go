package composables

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/orgtree/pkg/configuration"
	"github.com/iota-uz/orgtree/pkg/constants"
)

var (
	ErrNoTenantID = errors.New("tenant id not found in context")
)

func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, constants.TenantIDKey, tenantID)
}

func UseTenantID(ctx context.Context) (uuid.UUID, error) {
	tenantID, ok := ctx.Value(constants.TenantIDKey).(uuid.UUID)
	if !ok || tenantID == uuid.Nil {
		return uuid.Nil, ErrNoTenantID
	}
	return tenantID, nil
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, constants.RequestIDKey, requestID)
}

func UseRequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(constants.RequestIDKey).(string)
	return v, ok && v != ""
}

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// UseLogger returns the logger bound to ctx, or an entry on the configured
// application logger.
func UseLogger(ctx context.Context) *logrus.Entry {
	switch v := ctx.Value(constants.LoggerKey).(type) {
	case *logrus.Entry:
		if v != nil {
			return v
		}
	case *logrus.Logger:
		if v != nil {
			return logrus.NewEntry(v)
		}
	}
	return logrus.NewEntry(configuration.Use().Logger())
}
