// Package storage implements the persistent credential store.
package storage

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/config"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/credential"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/integration"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/logging"
)

// Store implements the credential store. Put and Remove are serialized by a
// single store-wide lock, Get never takes this lock.
type Store struct {
	mu sync.Mutex

	backend Backend
	keys    atomic.Pointer[keyring]
	handler atomic.Pointer[integration.Handler]
}

// NewStore creates a new Store using the given backend.
func NewStore(b Backend) *Store {
	s := Store{
		backend: b,
	}
	s.keys.Store(&keyring{})
	s.SetIntegration(integration.NopHandler{})
	return &s
}

// Setup configures the storage backend and returns the Store.
func Setup(c config.Config) (*Store, error) {
	log.WithField("type", c.Storage.Type).Info("storage: setting up storage module")

	var b Backend
	var err error

	switch c.Storage.Type {
	case "", "file":
		b, err = NewFileBackend(c.Storage.File.Dir)
	case "memory":
		log.Warning("storage: using in-memory storage, credentials will not survive a restart")
		b = NewMemoryBackend()
	case "redis":
		b, err = setupRedis(c)
	case "postgresql":
		b, err = setupPostgreSQL(c)
	default:
		err = fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}
	if err != nil {
		return nil, errors.Wrap(err, "setup storage backend error")
	}

	s := NewStore(b)

	keks := make(map[string][]byte)
	for _, k := range c.Storage.KEK.Set {
		kek, err := hex.DecodeString(k.KEK)
		if err != nil {
			return nil, errors.Wrapf(err, "decode kek %s error", k.Label)
		}
		keks[k.Label] = kek
	}
	if err := s.SetKEKs(keks, c.Storage.KEK.WrapWith); err != nil {
		return nil, err
	}

	return s, nil
}

func setupRedis(c config.Config) (Backend, error) {
	conf := c.Storage.Redis

	log.Info("storage: setting up Redis client")
	if len(conf.Servers) == 0 {
		return nil, errors.New("at least one redis server must be configured")
	}

	var tlsConfig *tls.Config
	if conf.TLSEnabled {
		tlsConfig = &tls.Config{}
	}

	var client redis.UniversalClient
	if conf.Cluster {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:     conf.Servers,
			PoolSize:  conf.PoolSize,
			Password:  conf.Password,
			TLSConfig: tlsConfig,
		})
	} else if conf.MasterName != "" {
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       conf.MasterName,
			SentinelAddrs:    conf.Servers,
			SentinelPassword: conf.Password,
			DB:               conf.Database,
			PoolSize:         conf.PoolSize,
			TLSConfig:        tlsConfig,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:      conf.Servers[0],
			DB:        conf.Database,
			Password:  conf.Password,
			PoolSize:  conf.PoolSize,
			TLSConfig: tlsConfig,
		})
	}

	return NewRedisBackend(client), nil
}

func setupPostgreSQL(c config.Config) (Backend, error) {
	conf := c.Storage.PostgreSQL

	db, err := OpenPostgreSQL(conf.DSN, conf.MaxOpenConnections, conf.MaxIdleConnections)
	if err != nil {
		return nil, err
	}

	if conf.Automigrate {
		if err := MigrateUp(db); err != nil {
			return nil, errors.Wrap(err, "storage: migrate PostgreSQL schema error")
		}
	}

	return NewPostgresBackend(db), nil
}

// SetKEKs sets the key-encryption-keys. When wrapWith is not empty, the
// AppKey of records written from now on will be wrapped with the KEK with
// this label. All given KEKs can be used to unwrap existing records.
func (s *Store) SetKEKs(keks map[string][]byte, wrapWith string) error {
	for label, kek := range keks {
		switch len(kek) {
		case 16, 24, 32:
		default:
			return fmt.Errorf("kek %s: invalid length %d", label, len(kek))
		}
	}
	if wrapWith != "" {
		if _, ok := keks[wrapWith]; !ok {
			return fmt.Errorf("kek %s is not configured", wrapWith)
		}
	}

	s.keys.Store(&keyring{keks: keks, wrapWith: wrapWith})
	return nil
}

// SetIntegration sets the integration handler which is notified after each
// successful Put and Remove.
func (s *Store) SetIntegration(h integration.Handler) {
	s.handler.Store(&h)
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Put stores the given record. A record already stored under the same slot
// is replaced atomically.
func (s *Store) Put(ctx context.Context, rec credential.Record) (err error) {
	defer func() { storageOp("put", err) }()

	if !rec.Provisioned {
		return errors.Wrap(ErrNotProvisioned, rec.SlotLabel)
	}
	if err := rec.Validate(); err != nil {
		return errors.Wrap(err, "validate record error")
	}

	b, err := marshalRecord(rec, s.keys.Load())
	if err != nil {
		return errors.Wrap(err, "marshal record error")
	}

	s.mu.Lock()
	err = s.backend.Save(ctx, rec.SlotLabel, b)
	s.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "save record error")
	}

	log.WithFields(log.Fields{
		"slot":            rec.SlotLabel,
		"dev_eui":         rec.DevEUI,
		"join_eui":        rec.JoinEUI,
		"key_fingerprint": rec.Fingerprint(),
		"ctx_id":          ctx.Value(logging.ContextIDKey),
	}).Info("storage: credential record saved")

	s.sendEvent(ctx, integration.NewProvisioningEvent(integration.EventProvisioned, rec))

	return nil
}

// Get returns the record for the given slot. It returns ErrDoesNotExist when
// the slot is not provisioned and ErrCorrupt when the persisted record fails
// the format, checksum or structure checks.
func (s *Store) Get(ctx context.Context, slot string) (rec credential.Record, err error) {
	defer func() { storageOp("get", err) }()

	if err := credential.ValidateSlotLabel(slot); err != nil {
		return rec, err
	}

	b, err := s.backend.Load(ctx, slot)
	if err != nil {
		return rec, err
	}

	rec, err = unmarshalRecord(slot, b, s.keys.Load())
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"slot":   slot,
			"ctx_id": ctx.Value(logging.ContextIDKey),
		}).Error("storage: corrupt credential record")
		return rec, err
	}

	return rec, nil
}

// Remove deprovisions the given slot.
func (s *Store) Remove(ctx context.Context, slot string) (err error) {
	defer func() { storageOp("remove", err) }()

	if err := credential.ValidateSlotLabel(slot); err != nil {
		return err
	}

	s.mu.Lock()
	err = s.backend.Delete(ctx, slot)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"slot":   slot,
		"ctx_id": ctx.Value(logging.ContextIDKey),
	}).Info("storage: credential record removed")

	s.sendEvent(ctx, integration.NewProvisioningEvent(integration.EventDeprovisioned, credential.Record{SlotLabel: slot}))

	return nil
}

// List returns the provisioned slot labels.
func (s *Store) List(ctx context.Context) (slots []string, err error) {
	defer func() { storageOp("list", err) }()
	return s.backend.Slots(ctx)
}

// Ping tests the underlying storage medium.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close closes the underlying storage medium.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) sendEvent(ctx context.Context, ev integration.ProvisioningEvent) {
	h := *s.handler.Load()
	if err := h.SendProvisioningEvent(ctx, ev); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"slot":   ev.SlotLabel,
			"type":   ev.Type,
			"ctx_id": ctx.Value(logging.ContextIDKey),
		}).Error("storage: send provisioning event error")
	}
}

// GetRedisKey returns the Redis key given a template and parameters.
func GetRedisKey(tmpl string, params ...interface{}) string {
	return fmt.Sprintf(tmpl, params...)
}
