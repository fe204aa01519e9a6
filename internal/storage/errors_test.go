package storage

import (
	"database/sql"
	"database/sql/driver"
	"net"
	"testing"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestHandlePSQLError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   error
	}{
		{
			name: "no rows",
			err:  sql.ErrNoRows,
			is:   ErrDoesNotExist,
		},
		{
			name: "connection refused",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
			is:   ErrStorageUnavailable,
		},
		{
			name: "bad connection",
			err:  driver.ErrBadConn,
			is:   ErrStorageUnavailable,
		},
		{
			name: "connection done",
			err:  errors.Wrap(sql.ErrConnDone, "commit"),
			is:   ErrStorageUnavailable,
		},
		{
			name: "admin shutdown",
			err:  &pq.Error{Code: "57P01"},
			is:   ErrStorageUnavailable,
		},
		{
			name: "too many connections",
			err:  &pq.Error{Code: "53300"},
			is:   ErrStorageUnavailable,
		},
	}

	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			assert := require.New(t)
			err := handlePSQLError(tst.err, "select error")
			assert.True(errors.Is(err, tst.is), "got %v", err)
		})
	}

	t.Run("unique violation", func(t *testing.T) {
		assert := require.New(t)
		err := handlePSQLError(&pq.Error{Code: "23505"}, "insert error")
		assert.False(errors.Is(err, ErrStorageUnavailable))
		assert.False(errors.Is(err, ErrDoesNotExist))
	})
}
