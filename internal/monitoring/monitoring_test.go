package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/config"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/storage"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/test"
)

func TestMonitoring(t *testing.T) {
	dir := t.TempDir()
	b, err := storage.NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	s := storage.NewStore(b)
	if err := s.Put(context.Background(), test.MustRecord("dpi-test")); err != nil {
		t.Fatal(err)
	}

	var c config.Config
	c.Monitoring.PrometheusEndpoint = true
	c.Monitoring.HealthcheckEndpoint = true
	h := NewHandler(c, s)

	t.Run("Metrics", func(t *testing.T) {
		assert := require.New(t)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(http.StatusOK, rec.Code)
		assert.Contains(rec.Body.String(), "storage_operation_count")
	})

	t.Run("Healthy", func(t *testing.T) {
		assert := require.New(t)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(http.StatusOK, rec.Code)
	})

	t.Run("Storage unavailable", func(t *testing.T) {
		assert := require.New(t)

		assert.NoError(os.RemoveAll(dir))
		assert.NoError(os.WriteFile(filepath.Clean(dir), []byte("not a directory"), 0600))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(http.StatusServiceUnavailable, rec.Code)
		assert.Contains(rec.Body.String(), "storage ping error")
	})

	t.Run("Disabled endpoints", func(t *testing.T) {
		assert := require.New(t)

		rec := httptest.NewRecorder()
		NewHandler(config.Config{}, s).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(http.StatusNotFound, rec.Code)
	})
}
