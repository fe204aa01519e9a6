package storage

import (
	"context"
	"embed"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	// register postgresql driver
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresBackend stores the records in PostgreSQL.
type PostgresBackend struct {
	db *sqlx.DB
}

// NewPostgresBackend creates a new PostgresBackend.
func NewPostgresBackend(db *sqlx.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// OpenPostgreSQL opens the PostgreSQL connection.
func OpenPostgreSQL(dsn string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	log.Info("storage: connecting to PostgreSQL")
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "storage: PostgreSQL connection error")
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	for {
		if err := db.Ping(); err != nil {
			log.WithError(err).Warning("storage: ping PostgreSQL database error, will retry in 2s")
			time.Sleep(2 * time.Second)
		} else {
			break
		}
	}

	return db, nil
}

// MigrateUp applies all up migrations.
func MigrateUp(db *sqlx.DB) error {
	log.Info("storage: applying PostgreSQL schema migrations")

	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return errors.Wrap(err, "migrate postgres driver error")
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "new migrate source error")
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return errors.Wrap(err, "new migrate instance error")
	}

	oldVersion, _, _ := m.Version()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "migrate up error")
	}

	newVersion, _, _ := m.Version()

	if oldVersion != newVersion {
		log.WithFields(log.Fields{
			"from_version": oldVersion,
			"to_version":   newVersion,
		}).Info("storage: applied PostgreSQL schema migrations")
	}

	return nil
}

// Transaction wraps the given function in a transaction. In case the given
// functions returns an error, the transaction will be rolled back.
func Transaction(db *sqlx.DB, f func(tx *sqlx.Tx) error) error {
	tx, err := db.Beginx()
	if err != nil {
		return handlePSQLError(err, "begin transaction error")
	}

	err = f(tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return handlePSQLError(rbErr, "transaction rollback error")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return handlePSQLError(err, "transaction commit error")
	}
	return nil
}

// Load implements Backend.
func (b *PostgresBackend) Load(ctx context.Context, slot string) ([]byte, error) {
	var rec []byte
	err := sqlx.GetContext(ctx, b.db, &rec, "select envelope from credential_slot where slot_label = $1", slot)
	if err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return rec, nil
}

// Save implements Backend.
func (b *PostgresBackend) Save(ctx context.Context, slot string, rec []byte) error {
	return Transaction(b.db, func(tx *sqlx.Tx) error {
		now := time.Now()
		_, err := tx.ExecContext(ctx, `
			insert into credential_slot (
				slot_label,
				envelope,
				created_at,
				updated_at
			) values ($1, $2, $3, $3)
			on conflict (slot_label) do update
			set
				envelope = excluded.envelope,
				updated_at = excluded.updated_at`,
			slot,
			rec,
			now,
		)
		if err != nil {
			return handlePSQLError(err, "upsert error")
		}
		return nil
	})
}

// Delete implements Backend.
func (b *PostgresBackend) Delete(ctx context.Context, slot string) error {
	res, err := b.db.ExecContext(ctx, "delete from credential_slot where slot_label = $1", slot)
	if err != nil {
		return handlePSQLError(err, "delete error")
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "get rows affected error")
	}
	if ra == 0 {
		return ErrDoesNotExist
	}
	return nil
}

// Slots implements Backend.
func (b *PostgresBackend) Slots(ctx context.Context) ([]string, error) {
	var slots []string
	err := sqlx.SelectContext(ctx, b.db, &slots, "select slot_label from credential_slot order by slot_label")
	if err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return slots, nil
}

// Ping implements Backend.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	return nil
}

// Close implements Backend.
func (b *PostgresBackend) Close() error {
	return b.db.Close()
}
