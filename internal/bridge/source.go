package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/brocaar/lorawan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/credential"
)

// ByteSource defines the source of the credentials handed to the MAC
// engine. Implementations must be fast and must not block: they are called
// from time-critical MAC code. Values are returned in canonical orientation.
type ByteSource interface {
	DevEUI() (credential.EUI, error)
	JoinEUI() (credential.EUI, error)
	AppKey() (lorawan.AES128Key, error)
}

// RecordGetter defines the interface to retrieve a record by slot label.
type RecordGetter interface {
	Get(ctx context.Context, slot string) (credential.Record, error)
}

// ActiveSlot is a ByteSource backed by the record of the active slot. The
// record is read from the store on Load only, after which it is served from
// memory. Loads are serialized so that the snapshot always reflects the
// store as read by the last Load; readers never take the lock.
type ActiveSlot struct {
	getter RecordGetter
	slot   string

	loadMu sync.Mutex
	rec    atomic.Pointer[credential.Record]
}

// NewActiveSlot creates a new ActiveSlot for the given slot label.
func NewActiveSlot(getter RecordGetter, slot string) *ActiveSlot {
	return &ActiveSlot{
		getter: getter,
		slot:   slot,
	}
}

// Slot returns the active slot label.
func (a *ActiveSlot) Slot() string {
	return a.slot
}

// Load (re)loads the record of the active slot. On error, the previously
// loaded record is discarded so that stale credentials are never handed
// out.
func (a *ActiveSlot) Load(ctx context.Context) error {
	a.loadMu.Lock()
	defer a.loadMu.Unlock()

	if a.slot == "" {
		a.rec.Store(nil)
		return ErrNoActiveSlot
	}

	rec, err := a.getter.Get(ctx, a.slot)
	if err == nil {
		err = rec.Validate()
	}
	if err != nil {
		a.rec.Store(nil)
		return errors.Wrapf(err, "load active slot %s error", a.slot)
	}

	a.rec.Store(&rec)

	log.WithFields(log.Fields{
		"slot":            rec.SlotLabel,
		"dev_eui":         rec.DevEUI,
		"join_eui":        rec.JoinEUI,
		"key_fingerprint": rec.Fingerprint(),
	}).Info("bridge: active slot loaded")

	return nil
}

// DevEUI implements ByteSource.
func (a *ActiveSlot) DevEUI() (credential.EUI, error) {
	rec, err := a.current()
	if err != nil {
		return credential.EUI{}, err
	}
	return rec.DevEUI, nil
}

// JoinEUI implements ByteSource.
func (a *ActiveSlot) JoinEUI() (credential.EUI, error) {
	rec, err := a.current()
	if err != nil {
		return credential.EUI{}, err
	}
	return rec.JoinEUI, nil
}

// AppKey implements ByteSource.
func (a *ActiveSlot) AppKey() (lorawan.AES128Key, error) {
	rec, err := a.current()
	if err != nil {
		return lorawan.AES128Key{}, err
	}
	return rec.AppKey, nil
}

func (a *ActiveSlot) current() (*credential.Record, error) {
	rec := a.rec.Load()
	if rec == nil {
		return nil, ErrNoActiveSlot
	}
	return rec, nil
}

// StaticSource is a ByteSource backed by a fixed record, e.g. the constants
// of a legacy header file or a test fixture.
type StaticSource struct {
	rec credential.Record
}

// NewStaticSource returns a StaticSource for the given record. The record
// is validated.
func NewStaticSource(rec credential.Record) (*StaticSource, error) {
	if err := rec.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate record error")
	}
	return &StaticSource{rec: rec}, nil
}

// DevEUI implements ByteSource.
func (s *StaticSource) DevEUI() (credential.EUI, error) {
	return s.rec.DevEUI, nil
}

// JoinEUI implements ByteSource.
func (s *StaticSource) JoinEUI() (credential.EUI, error) {
	return s.rec.JoinEUI, nil
}

// AppKey implements ByteSource.
func (s *StaticSource) AppKey() (lorawan.AES128Key, error) {
	return s.rec.AppKey, nil
}
