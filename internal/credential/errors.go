package credential

import (
	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/codec"
)

// errors
var (
	ErrLengthMismatch           = codec.ErrLengthMismatch
	ErrUnprovisionedPlaceholder = errors.New("unprovisioned placeholder")
	ErrWeakOrDefaultKey         = errors.New("weak or default key")
	ErrInvalidSlotLabel         = errors.New("invalid slot label")
	ErrInvalidEncoding          = errors.New("invalid encoding")
)

// IsValidationError returns true when the given error was returned by the
// validator (and thus can be corrected by re-entering the data).
func IsValidationError(err error) bool {
	for _, e := range []error{
		ErrLengthMismatch,
		ErrUnprovisionedPlaceholder,
		ErrWeakOrDefaultKey,
		ErrInvalidSlotLabel,
		ErrInvalidEncoding,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
