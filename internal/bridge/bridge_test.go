package bridge

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/codec"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/credential"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/storage"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/test"
)

func TestBridge(t *testing.T) {
	ctx := context.Background()

	t.Run("Round-trip validate, put, get, bridge", func(t *testing.T) {
		assert := require.New(t)

		rec, err := credential.Validate(credential.NewRawRecord("dpi-test", test.DevEUI, test.JoinEUI, test.AppKey))
		assert.NoError(err)

		s := storage.NewStore(storage.NewMemoryBackend())
		assert.NoError(s.Put(ctx, rec))

		src := NewActiveSlot(s, "dpi-test")
		assert.NoError(src.Load(ctx))
		b := New(src, codec.LMIC)

		devEUI := make([]byte, 8)
		joinEUI := make([]byte, 8)
		appKey := make([]byte, 16)
		assert.NoError(b.GetDevEUI(devEUI))
		assert.NoError(b.GetArtEUI(joinEUI))
		assert.NoError(b.GetDevKey(appKey))

		assert.Equal(test.DevEUI, devEUI)
		assert.Equal(test.JoinEUI, joinEUI)
		assert.Equal(test.AppKey, appKey)
	})

	t.Run("Network layout", func(t *testing.T) {
		assert := require.New(t)

		src, err := NewStaticSource(test.MustRecord("dpi-test"))
		assert.NoError(err)
		b := New(src, codec.Network)

		buf := make([]byte, 8)
		assert.NoError(b.GetDevEUI(buf))
		assert.Equal([]byte{0x00, 0x40, 0x75, 0x09, 0x0e, 0xf5, 0xb9, 0x32}, buf)

		key := make([]byte, 16)
		assert.NoError(b.GetDevKey(key))
		assert.Equal(test.AppKey, key)
	})

	t.Run("Larger buffer", func(t *testing.T) {
		assert := require.New(t)

		src, err := NewStaticSource(test.MustRecord("dpi-test"))
		assert.NoError(err)
		b := New(src, codec.LMIC)

		buf := bytes.Repeat([]byte{0xaa}, 10)
		assert.NoError(b.GetArtEUI(buf))
		assert.Equal(test.JoinEUI, buf[:8])
		assert.Equal([]byte{0xaa, 0xaa}, buf[8:])
	})

	t.Run("Short buffer", func(t *testing.T) {
		assert := require.New(t)

		src, err := NewStaticSource(test.MustRecord("dpi-test"))
		assert.NoError(err)
		b := New(src, codec.LMIC)

		buf := make([]byte, 8)
		assert.True(errors.Is(b.GetDevKey(buf), codec.ErrLengthMismatch))
		assert.Equal(make([]byte, 8), buf)
	})

	t.Run("No active slot configured", func(t *testing.T) {
		assert := require.New(t)

		s := storage.NewStore(storage.NewMemoryBackend())
		src := NewActiveSlot(s, "")
		assert.Equal(ErrNoActiveSlot, src.Load(ctx))
		b := New(src, codec.LMIC)

		buf := bytes.Repeat([]byte{0x55}, 16)
		assert.Equal(ErrNoActiveSlot, b.GetDevKey(buf))
		assert.Equal(bytes.Repeat([]byte{0x55}, 16), buf)

		assert.Panics(func() {
			b.MustGetDevKey(buf)
		})
		assert.Equal(bytes.Repeat([]byte{0x55}, 16), buf)
	})

	t.Run("Active slot not provisioned", func(t *testing.T) {
		assert := require.New(t)

		s := storage.NewStore(storage.NewMemoryBackend())
		src := NewActiveSlot(s, "dpi-test")
		err := src.Load(ctx)
		assert.True(errors.Is(err, storage.ErrDoesNotExist))

		buf := make([]byte, 8)
		assert.Equal(ErrNoActiveSlot, New(src, codec.LMIC).GetDevEUI(buf))
	})

	t.Run("Corrupt store", func(t *testing.T) {
		assert := require.New(t)

		backend := storage.NewMemoryBackend()
		s := storage.NewStore(backend)
		assert.NoError(s.Put(ctx, test.MustRecord("dpi-test")))

		src := NewActiveSlot(s, "dpi-test")
		assert.NoError(src.Load(ctx))

		b, err := backend.Load(ctx, "dpi-test")
		assert.NoError(err)
		corrupt := append([]byte(nil), b...)
		corrupt[len(corrupt)-8] ^= 0x01
		assert.NoError(backend.Save(ctx, "dpi-test", corrupt))

		// re-provisioning reload fails, the previous record must not be used
		err = src.Load(ctx)
		assert.True(errors.Is(err, storage.ErrCorrupt))

		buf := make([]byte, 16)
		assert.Equal(ErrNoActiveSlot, New(src, codec.LMIC).GetDevKey(buf))
		assert.Equal(make([]byte, 16), buf)
	})

	t.Run("Static source validates", func(t *testing.T) {
		assert := require.New(t)

		rec := test.MustRecord("dpi-test")
		rec.AppKey = [16]byte{}
		_, err := NewStaticSource(rec)
		assert.True(errors.Is(err, credential.ErrWeakOrDefaultKey))
	})

	t.Run("Overlapping reloads keep the newest record", func(t *testing.T) {
		assert := require.New(t)

		recA := test.MustRecord("dpi-test")
		recA.AppKey[0] = 0xaa
		recB := test.MustRecord("dpi-test")
		recB.AppKey[0] = 0xbb

		g := &gatedGetter{
			recs:    []credential.Record{recA, recB},
			entered: make(chan struct{}),
			release: make(chan struct{}),
		}
		src := NewActiveSlot(g, "dpi-test")

		first := make(chan error, 1)
		go func() { first <- src.Load(ctx) }()
		<-g.entered

		second := make(chan error, 1)
		go func() { second <- src.Load(ctx) }()

		select {
		case <-second:
			t.Fatal("second load completed while the first was still reading")
		case <-time.After(50 * time.Millisecond):
		}

		close(g.release)
		assert.NoError(<-first)
		assert.NoError(<-second)

		key, err := src.AppKey()
		assert.NoError(err)
		assert.EqualValues(0xbb, key[0])
	})

	t.Run("Reads during reload", func(t *testing.T) {
		assert := require.New(t)

		s := storage.NewStore(storage.NewMemoryBackend())
		assert.NoError(s.Put(ctx, test.MustRecord("dpi-test")))
		src := NewActiveSlot(s, "dpi-test")
		assert.NoError(src.Load(ctx))
		b := New(src, codec.LMIC)

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				buf := make([]byte, 16)
				for j := 0; j < 500; j++ {
					if err := b.GetDevKey(buf); err != nil {
						t.Error(err)
						return
					}
					if !bytes.Equal(test.AppKey, buf) {
						t.Errorf("unexpected key: %x", buf)
						return
					}
				}
			}()
		}

		for i := 0; i < 50; i++ {
			assert.NoError(src.Load(ctx))
		}
		wg.Wait()
	})
}

// gatedGetter returns recs in call order. The first call blocks until
// release is closed.
type gatedGetter struct {
	mu      sync.Mutex
	calls   int
	recs    []credential.Record
	entered chan struct{}
	release chan struct{}
}

func (g *gatedGetter) Get(ctx context.Context, slot string) (credential.Record, error) {
	g.mu.Lock()
	i := g.calls
	g.calls++
	g.mu.Unlock()

	if i == 0 {
		close(g.entered)
		<-g.release
	}
	if i >= len(g.recs) {
		i = len(g.recs) - 1
	}
	return g.recs[i], nil
}
