// Package bridge implements the credential callbacks of the MAC engine
// (LMIC os_getArtEui, os_getDevEui and os_getDevKey).
package bridge

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/codec"
)

// ErrNoActiveSlot is returned when there are no credentials to hand out.
var ErrNoActiveSlot = errors.New("no active slot")

var (
	readCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_read_count",
		Help: "The number of credential reads by the MAC engine (per field and result).",
	}, []string{"field", "result"})
)

// Bridge hands out the credentials of a ByteSource in the wire orientation
// of the configured layout.
type Bridge struct {
	source ByteSource
	layout codec.Layout
}

// New creates a new Bridge.
func New(source ByteSource, layout codec.Layout) *Bridge {
	return &Bridge{
		source: source,
		layout: layout,
	}
}

// Layout returns the wire layout.
func (b *Bridge) Layout() codec.Layout {
	return b.layout
}

// GetArtEUI writes the 8 byte JoinEUI (AppEUI) into buf.
func (b *Bridge) GetArtEUI(buf []byte) error {
	return b.write(buf, codec.AppID, func() ([]byte, error) {
		v, err := b.source.JoinEUI()
		return v[:], err
	})
}

// GetDevEUI writes the 8 byte DevEUI into buf.
func (b *Bridge) GetDevEUI(buf []byte) error {
	return b.write(buf, codec.DeviceID, func() ([]byte, error) {
		v, err := b.source.DevEUI()
		return v[:], err
	})
}

// GetDevKey writes the 16 byte AppKey into buf.
func (b *Bridge) GetDevKey(buf []byte) error {
	return b.write(buf, codec.AppKey, func() ([]byte, error) {
		v, err := b.source.AppKey()
		return v[:], err
	})
}

// MustGetArtEUI is like GetArtEUI but panics on error. The MAC engine must
// never join with unknown credentials.
func (b *Bridge) MustGetArtEUI(buf []byte) {
	mustNot(b.GetArtEUI(buf))
}

// MustGetDevEUI is like GetDevEUI but panics on error.
func (b *Bridge) MustGetDevEUI(buf []byte) {
	mustNot(b.GetDevEUI(buf))
}

// MustGetDevKey is like GetDevKey but panics on error.
func (b *Bridge) MustGetDevKey(buf []byte) {
	mustNot(b.GetDevKey(buf))
}

// write writes exactly kind.Len() bytes into buf. On error, buf is left
// untouched.
func (b *Bridge) write(buf []byte, kind codec.FieldKind, get func() ([]byte, error)) (err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			log.WithError(err).WithField("field", kind).Error("bridge: read credential error")
		}
		readCounter.With(prometheus.Labels{"field": kind.String(), "result": result}).Inc()
	}()

	v, err := get()
	if err != nil {
		return err
	}

	if len(buf) < kind.Len() {
		return errors.Wrapf(codec.ErrLengthMismatch, "%s: buffer of %d bytes, need %d", kind, len(buf), kind.Len())
	}

	wire, err := codec.ToWireOrder(v, kind, b.layout)
	if err != nil {
		return err
	}

	copy(buf[:kind.Len()], wire)
	return nil
}

func mustNot(err error) {
	if err != nil {
		panic(fmt.Sprintf("bridge: fatal credential error: %s", err))
	}
}
