// Package test contains helpers shared by the package tests.
package test

import (
	"context"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	// register postgresql driver
	_ "github.com/lib/pq"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/credential"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/integration"
)

func init() {
	log.SetLevel(log.ErrorLevel)
}

// Config contains the test configuration.
type Config struct {
	RedisURL    string
	PostgresDSN string
	MQTTServer  string
	AMQPURL     string
}

// GetConfig returns the test configuration. The external services are only
// used when their TEST_* variable is set.
func GetConfig() Config {
	return Config{
		RedisURL:    os.Getenv("TEST_REDIS_URL"),
		PostgresDSN: os.Getenv("TEST_POSTGRES_DSN"),
		MQTTServer:  os.Getenv("TEST_MQTT_SERVER"),
		AMQPURL:     os.Getenv("TEST_AMQP_URL"),
	}
}

// MustRedisClient returns a Redis client for the configured test server or
// skips the test when no server is configured.
func MustRedisClient(t *testing.T) redis.UniversalClient {
	conf := GetConfig()
	if conf.RedisURL == "" {
		t.Skip("TEST_REDIS_URL is not set")
	}

	opt, err := redis.ParseURL(conf.RedisURL)
	if err != nil {
		t.Fatal(err)
	}
	return redis.NewClient(opt)
}

// MustFlushRedis flushes the Redis storage.
func MustFlushRedis(client redis.UniversalClient) {
	if err := client.FlushAll(context.Background()).Err(); err != nil {
		log.Fatal(err)
	}
}

// MustPostgreSQL returns a connection to the configured test database or
// skips the test when no database is configured.
func MustPostgreSQL(t *testing.T) *sqlx.DB {
	conf := GetConfig()
	if conf.PostgresDSN == "" {
		t.Skip("TEST_POSTGRES_DSN is not set")
	}

	db, err := sqlx.Open("postgres", conf.PostgresDSN)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Ping(); err != nil {
		t.Fatal(err)
	}
	return db
}

// MustResetDB drops all tables created by the migrations.
func MustResetDB(db *sqlx.DB) {
	for _, q := range []string{
		"drop table if exists credential_slot",
		"drop table if exists schema_migrations",
	} {
		if _, err := db.Exec(q); err != nil {
			log.Fatal(err)
		}
	}
}

// Credentials used throughout the tests. These were taken from a device
// that has been decommissioned.
var (
	DevEUI  = []byte{0x32, 0xb9, 0xf5, 0x0e, 0x09, 0x75, 0x40, 0x00}
	JoinEUI = []byte{0x7b, 0xbe, 0x02, 0xd0, 0x7e, 0xd5, 0xb3, 0x70}
	AppKey  = []byte{0xd1, 0x6d, 0x04, 0x3a, 0x5d, 0x6d, 0xed, 0x33, 0x00, 0xf5, 0x8b, 0x66, 0x8d, 0x4b, 0x3f, 0xde}
)

// MustRecord returns a validated record for the given slot.
func MustRecord(slot string) credential.Record {
	rec, err := credential.Validate(credential.NewRawRecord(slot, DevEUI, JoinEUI, AppKey))
	if err != nil {
		panic(err)
	}
	return rec
}

// IntegrationHandler is an integration handler for testing.
type IntegrationHandler struct {
	SendProvisioningEventErr  error
	SendProvisioningEventChan chan integration.ProvisioningEvent
}

// NewIntegrationHandler creates a new IntegrationHandler.
func NewIntegrationHandler() *IntegrationHandler {
	return &IntegrationHandler{
		SendProvisioningEventChan: make(chan integration.ProvisioningEvent, 100),
	}
}

// SendProvisioningEvent method.
func (h *IntegrationHandler) SendProvisioningEvent(ctx context.Context, ev integration.ProvisioningEvent) error {
	h.SendProvisioningEventChan <- ev
	return h.SendProvisioningEventErr
}

// Close method.
func (h *IntegrationHandler) Close() error {
	return nil
}
