package storage

import (
	"database/sql"
	"database/sql/driver"
	"net"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// errors
var (
	ErrDoesNotExist       = errors.New("object does not exist")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrCorrupt            = errors.New("corrupt credential record")
	ErrNotProvisioned     = errors.New("record is not provisioned")

	// ErrUnsupportedFormat is returned for records written with an unknown
	// format version. It wraps ErrCorrupt as such records must never be
	// interpreted as credentials.
	ErrUnsupportedFormat = errors.Wrap(ErrCorrupt, "unsupported format version")
)

func handlePSQLError(err error, description string) error {
	if err == sql.ErrNoRows {
		return ErrDoesNotExist
	}

	// the server could not be reached or the connection was lost
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return errors.Wrap(ErrStorageUnavailable, err.Error())
	}

	switch err := err.(type) {
	case *pq.Error:
		switch err.Code.Class() {
		case "08", "53", "57":
			// connection exception, insufficient resources, operator intervention
			return errors.Wrap(ErrStorageUnavailable, err.Error())
		}
	}

	return errors.Wrap(err, description)
}
