package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/test"
)

type BackendTestSuite struct {
	suite.Suite

	newBackend func() Backend
	backend    Backend
}

func (ts *BackendTestSuite) SetupTest() {
	ts.backend = ts.newBackend()
}

func (ts *BackendTestSuite) TearDownTest() {
	ts.NoError(ts.backend.Close())
}

func (ts *BackendTestSuite) TestLoadNotExisting() {
	_, err := ts.backend.Load(context.Background(), "missing")
	ts.Equal(ErrDoesNotExist, err)
}

func (ts *BackendTestSuite) TestSaveLoadReplace() {
	assert := ts.Require()
	ctx := context.Background()

	assert.NoError(ts.backend.Save(ctx, "slot-a", []byte("first")))
	b, err := ts.backend.Load(ctx, "slot-a")
	assert.NoError(err)
	assert.Equal([]byte("first"), b)

	assert.NoError(ts.backend.Save(ctx, "slot-a", []byte("second")))
	b, err = ts.backend.Load(ctx, "slot-a")
	assert.NoError(err)
	assert.Equal([]byte("second"), b)

	slots, err := ts.backend.Slots(ctx)
	assert.NoError(err)
	assert.Equal([]string{"slot-a"}, slots)
}

func (ts *BackendTestSuite) TestDelete() {
	assert := ts.Require()
	ctx := context.Background()

	assert.Equal(ErrDoesNotExist, ts.backend.Delete(ctx, "slot-a"))

	assert.NoError(ts.backend.Save(ctx, "slot-a", []byte("a")))
	assert.NoError(ts.backend.Save(ctx, "slot-b", []byte("b")))
	assert.NoError(ts.backend.Delete(ctx, "slot-a"))

	_, err := ts.backend.Load(ctx, "slot-a")
	assert.Equal(ErrDoesNotExist, err)

	slots, err := ts.backend.Slots(ctx)
	assert.NoError(err)
	assert.Equal([]string{"slot-b"}, slots)
}

func (ts *BackendTestSuite) TestSlotsEmpty() {
	slots, err := ts.backend.Slots(context.Background())
	ts.NoError(err)
	ts.Len(slots, 0)
}

func (ts *BackendTestSuite) TestPing() {
	ts.NoError(ts.backend.Ping(context.Background()))
}

func TestMemoryBackend(t *testing.T) {
	suite.Run(t, &BackendTestSuite{
		newBackend: func() Backend { return NewMemoryBackend() },
	})
}

func TestFileBackend(t *testing.T) {
	suite.Run(t, &BackendTestSuite{
		newBackend: func() Backend {
			b, err := NewFileBackend(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			return b
		},
	})
}

func TestRedisBackend(t *testing.T) {
	conf := test.GetConfig()
	if conf.RedisURL == "" {
		t.Skip("TEST_REDIS_URL is not set")
	}

	suite.Run(t, &BackendTestSuite{
		newBackend: func() Backend {
			client := test.MustRedisClient(t)
			test.MustFlushRedis(client)
			return NewRedisBackend(client)
		},
	})
}

func TestPostgresBackend(t *testing.T) {
	conf := test.GetConfig()
	if conf.PostgresDSN == "" {
		t.Skip("TEST_POSTGRES_DSN is not set")
	}

	suite.Run(t, &BackendTestSuite{
		newBackend: func() Backend {
			db := test.MustPostgreSQL(t)
			test.MustResetDB(db)
			if err := MigrateUp(db); err != nil {
				t.Fatal(err)
			}
			return NewPostgresBackend(db)
		},
	})
}
