package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/pkg/constants"
)

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return nil
	}
	switch typed := ctx.Value(constants.LoggerKey).(type) {
	case *logrus.Entry:
		return typed
	case *logrus.Logger:
		return logrus.NewEntry(typed)
	default:
		return nil
	}
}

func (s *HierarchyService) logWithFields(ctx context.Context, level logrus.Level, msg string, fields logrus.Fields) {
	logger := loggerFromContext(ctx)
	if logger == nil {
		if s.log == nil {
			return
		}
		logger = logrus.NewEntry(s.log)
	}
	logger.WithFields(fields).Log(level, msg)
}

func scopeFields(scope node.Scope, changeType string, nodeID uuid.UUID) logrus.Fields {
	fields := logrus.Fields{
		"tenant_id":   scope.TenantID.String(),
		"kind":        string(scope.Kind),
		"change_type": changeType,
	}
	if nodeID != uuid.Nil {
		fields["node_id"] = nodeID.String()
	}
	return fields
}

// logRejected records a refused structural change at warn level.
func (s *HierarchyService) logRejected(ctx context.Context, scope node.Scope, changeType string, nodeID uuid.UUID, err error, extra logrus.Fields) {
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.Kind == KindInternal {
		return
	}
	fields := scopeFields(scope, changeType, nodeID)
	fields["error_code"] = svcErr.Code
	fields["error_kind"] = string(svcErr.Kind)
	for k, v := range extra {
		fields[k] = v
	}
	s.logWithFields(ctx, logrus.WarnLevel, "hierarchy.change.rejected", fields)
}
