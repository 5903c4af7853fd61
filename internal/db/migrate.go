package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/banshee-data/parcelmerge/internal/monitoring"
)

// LatestSchema is the highest migration embedded in this binary.
const LatestSchema uint = 2

// ErrSchemaTooNew is returned when a ledger was written by a newer binary.
var ErrSchemaTooNew = errors.New("ledger schema is newer than this binary")

// MigrateUp brings the ledger to LatestSchema.
func (db *DB) MigrateUp() error {
	current, _, err := db.SchemaVersion()
	if err != nil {
		return err
	}
	if current > LatestSchema {
		return fmt.Errorf("%w: %d > %d", ErrSchemaTooNew, current, LatestSchema)
	}
	return db.MigrateTo(LatestSchema)
}

// MigrateTo moves the schema up or down to version.
func (db *DB) MigrateTo(version uint) error {
	m, err := db.migrator()
	if err != nil {
		return err
	}
	// m is not closed: that would close db.DB.
	if err := m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate ledger to %d: %w", version, err)
	}
	return nil
}

// SchemaVersion reports the applied migration, 0 for an empty ledger.
func (db *DB) SchemaVersion() (version uint, dirty bool, err error) {
	m, err := db.migrator()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (db *DB) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, err
	}
	m.Log = ledgerMigrateLog{}
	return m, nil
}

// ledgerMigrateLog sends migrate's progress lines to the debug log.
type ledgerMigrateLog struct{}

func (ledgerMigrateLog) Printf(format string, v ...interface{}) {
	monitoring.Debugf("[ledger] migrate: "+strings.TrimRight(format, "\n"), v...)
}

func (ledgerMigrateLog) Verbose() bool { return monitoring.Verbose() }
