package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Pinger is implemented by the components of which the health is reported.
type Pinger interface {
	Ping(ctx context.Context) error
}

func healthCheckHandlerFunc(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(errors.Wrap(err, "storage ping error").Error()))
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}
