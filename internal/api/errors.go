package api

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/credential"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/storage"
)

var errToCodeMap = map[error]int{
	credential.ErrLengthMismatch:           http.StatusBadRequest,
	credential.ErrUnprovisionedPlaceholder: http.StatusBadRequest,
	credential.ErrWeakOrDefaultKey:         http.StatusBadRequest,
	credential.ErrInvalidSlotLabel:         http.StatusBadRequest,
	credential.ErrInvalidEncoding:          http.StatusBadRequest,

	storage.ErrNotProvisioned:     http.StatusBadRequest,
	storage.ErrDoesNotExist:       http.StatusNotFound,
	storage.ErrCorrupt:            http.StatusInternalServerError,
	storage.ErrStorageUnavailable: http.StatusServiceUnavailable,
}

func errToCode(err error) int {
	for e, code := range errToCodeMap {
		if errors.Is(err, e) {
			return code
		}
	}
	return http.StatusInternalServerError
}
