package storage

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_operation_count",
		Help: "The number of credential storage operations (per operation and result).",
	}, []string{"op", "result"})
)

func storageOp(op string, err error) {
	result := "ok"
	if err != nil {
		switch {
		case errors.Is(err, ErrDoesNotExist):
			result = "not_found"
		case errors.Is(err, ErrCorrupt):
			result = "corrupt"
		case errors.Is(err, ErrStorageUnavailable):
			result = "unavailable"
		default:
			result = "error"
		}
	}
	opCounter.With(prometheus.Labels{"op": op, "result": result}).Inc()
}
