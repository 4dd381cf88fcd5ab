package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/kpisync/kpisync/internal/assistant"
	"github.com/kpisync/kpisync/internal/completion"
	"github.com/kpisync/kpisync/internal/export"
	"github.com/kpisync/kpisync/internal/indicator"
	"github.com/kpisync/kpisync/internal/relationship"
	"github.com/kpisync/kpisync/internal/remote"
	"github.com/kpisync/kpisync/internal/session"
	"github.com/kpisync/kpisync/internal/store"
	"github.com/kpisync/kpisync/internal/store/duckdb"
	"github.com/kpisync/kpisync/internal/syncer"
)

// errConnectionMissing is returned when a user syncs before saving connection settings.
var errConnectionMissing = errors.New("connection settings are not saved")

// writeDomainError maps typed errors to statuses. extra is merged into the context object.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error, extra ...map[string]any) {
	details := map[string]any{}
	for _, m := range extra {
		for k, v := range m {
			details[k] = v
		}
	}

	var (
		configErr     *remote.ConfigError
		connectionErr *remote.ConnectionError
		completionErr *completion.Error
		executionErr  *assistant.ExecutionError
	)
	switch {
	case errors.As(err, &configErr):
		details["field"] = configErr.Field
		writeError(ctx, w, http.StatusBadRequest, "REMOTE_CONFIG_INVALID", err.Error(), false, details)
	case errors.Is(err, errConnectionMissing):
		writeError(ctx, w, http.StatusBadRequest, "REMOTE_CONFIG_MISSING", err.Error(), false, details)
	case errors.As(err, &connectionErr):
		details["driver"] = string(connectionErr.Driver)
		details["host"] = connectionErr.Host
		writeError(ctx, w, http.StatusBadGateway, "REMOTE_UNAVAILABLE", err.Error(), true, details)
	case errors.Is(err, completion.ErrDisabled):
		writeError(ctx, w, http.StatusServiceUnavailable, "COMPLETION_DISABLED", err.Error(), false, details)
	case errors.As(err, &completionErr):
		details["provider"] = completionErr.Provider
		if completionErr.StatusCode > 0 {
			details["status_code"] = completionErr.StatusCode
		}
		writeError(ctx, w, http.StatusBadGateway, "COMPLETION_FAILED", err.Error(), true, details)
	case errors.As(err, &executionErr):
		details["sql"] = executionErr.SQL
		writeError(ctx, w, http.StatusUnprocessableEntity, "SQL_EXECUTION_FAILED", err.Error(), false, details)
	case errors.Is(err, export.ErrDisabled):
		writeError(ctx, w, http.StatusServiceUnavailable, "EXPORT_DISABLED", err.Error(), false, details)
	case errors.Is(err, store.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "NOT_FOUND", err.Error(), false, details)
	case errors.Is(err, session.ErrInvalidUser):
		writeError(ctx, w, http.StatusBadRequest, "INVALID_USER", err.Error(), false, details)
	case errors.Is(err, session.ErrClosed):
		writeError(ctx, w, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error(), true, details)
	case errors.Is(err, syncer.ErrNoEntities),
		errors.Is(err, indicator.ErrInvalidMapping),
		errors.Is(err, relationship.ErrInvalid),
		errors.Is(err, duckdb.ErrEmptyQuery),
		errors.Is(err, duckdb.ErrNotReadOnly),
		errors.Is(err, duckdb.ErrInternalTable):
		writeError(ctx, w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), false, details)
	case errors.Is(err, relationship.ErrDuplicate):
		writeError(ctx, w, http.StatusConflict, "ALREADY_EXISTS", err.Error(), false, details)
	case errors.Is(err, relationship.ErrNoPath):
		writeError(ctx, w, http.StatusNotFound, "NO_JOIN_PATH", err.Error(), false, details)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(ctx, w, http.StatusGatewayTimeout, "TIMEOUT", err.Error(), true, details)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", err.Error(), false, details)
	}
}
