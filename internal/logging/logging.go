package logging

import (
	"context"
	"net/http"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"
)

// ContextKey defines the context key type.
type ContextKey string

// ContextIDKey holds the key of the context ID.
const ContextIDKey ContextKey = "ctx_id"

// NewContext returns a new context with a random context ID.
func NewContext(ctx context.Context) context.Context {
	ctxID, err := uuid.NewV4()
	if err != nil {
		log.WithError(err).Error("logging: new uuid error")
		return ctx
	}
	return context.WithValue(ctx, ContextIDKey, ctxID)
}

// Fields returns the log fields for the given context.
func Fields(ctx context.Context) log.Fields {
	return log.Fields{
		"ctx_id": ctx.Value(ContextIDKey),
	}
}

// HTTPCtxIDMiddleware adds the ContextIDKey to the request context and sets
// the X-Context-ID response header.
func HTTPCtxIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := NewContext(r.Context())
		if id, ok := ctx.Value(ContextIDKey).(uuid.UUID); ok {
			w.Header().Set("X-Context-ID", id.String())
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
