// Package sqlite implements the contact store on top of the teacher's
// own embedded SQLite driver, with page-level encryption via an
// encrypting VFS so the cache file is never stored in the clear.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/vfs/adiantum"
	"github.com/rs/zerolog"
)

type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New opens (creating if absent) the encrypted contact store at path
// using keyHex, a 256-bit key encoded as 64 hex characters. If the file
// already exists unencrypted it is migrated in place before opening.
func New(path, keyHex string, logger zerolog.Logger) (*Store, error) {
	key, err := decodeKey(keyHex)
	if err != nil {
		return nil, err
	}

	if err := migrateToEncrypted(path, key, logger); err != nil {
		return nil, fmt.Errorf("one-time encryption migration: %w", err)
	}

	vfsName, err := registerEncryptedVFS(key)
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?vfs=%s", path, vfsName)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}

	store := &Store{db: db, logger: logger}

	if err := runMigrations(dsn, logger); err != nil {
		store.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

func decodeKey(keyHex string) ([]byte, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("encryption key must be hex-encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 256 bits (32 bytes), got %d", len(key))
	}
	return key, nil
}

func registerEncryptedVFS(key []byte) (string, error) {
	const vfsName = "setu-adiantum"
	var k [32]byte
	copy(k[:], key)
	adiantum.Register(vfsName, &k)
	return vfsName, nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA secure_delete = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func runMigrations(dsn string, logger zerolog.Logger) error {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}
	defer db.Close()

	sourceDriver, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("create source driver: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("get current migration version: %w", err)
	}

	if dirty {
		logger.Warn().Uint("version", version).Msg("contact store is in dirty state, forcing version")
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("force migration version: %w", err)
		}
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}
	if err == migrate.ErrNoChange {
		logger.Debug().Msg("contact store schema already up to date")
	} else {
		newVersion, _, _ := m.Version()
		logger.Info().Uint("from_version", version).Uint("to_version", newVersion).Msg("contact store migrations applied")
	}
	return nil
}

// migrateToEncrypted re-exports an existing plaintext store under
// encryption and atomically renames it over the original. If the file
// is absent, or already readable under key, it is left untouched. A
// file that is neither plaintext-readable nor decryptable with key is
// a fatal configuration error.
//
// The adiantum VFS encrypts transparently through its URI handle, so
// there is no SQL-level "attach with key" primitive to lean on; the
// copy instead opens both databases as ordinary sql.DB handles and
// replays the plaintext schema and rows into the encrypted sibling.
func migrateToEncrypted(path string, key []byte, logger zerolog.Logger) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	vfsName, err := registerEncryptedVFS(key)
	if err != nil {
		return err
	}
	encryptedDSN := fmt.Sprintf("file:%s?vfs=%s", path, vfsName)
	if db, err := sql.Open("sqlite3", encryptedDSN); err == nil {
		if pingErr := db.Ping(); pingErr == nil {
			db.Close()
			return nil
		}
		db.Close()
	}

	plainDSN := fmt.Sprintf("file:%s", path)
	plainDB, err := sql.Open("sqlite3", plainDSN)
	if err != nil {
		return fmt.Errorf("neither plaintext nor encrypted open succeeded: %w", err)
	}
	if pingErr := plainDB.Ping(); pingErr != nil {
		plainDB.Close()
		return fmt.Errorf("store exists but is neither readable in the clear nor with the supplied key: %w", pingErr)
	}

	logger.Info().Str("path", path).Msg("migrating plaintext contact store to encrypted storage")

	tmpPath := path + ".encrypting"
	os.Remove(tmpPath)

	encDSN := fmt.Sprintf("file:%s?vfs=%s", tmpPath, vfsName)
	encDB, err := sql.Open("sqlite3", encDSN)
	if err != nil {
		plainDB.Close()
		return fmt.Errorf("open encrypted sibling: %w", err)
	}

	if err := copyDatabase(plainDB, encDB); err != nil {
		plainDB.Close()
		encDB.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("copy into encrypted sibling: %w", err)
	}

	plainDB.Close()
	encDB.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename encrypted sibling over original: %w", err)
	}
	return nil
}

// copyDatabase replays every table and index of src into dst in
// schema order, then copies each table's rows. Both handles must
// already be open.
func copyDatabase(src, dst *sql.DB) error {
	tables, err := schemaObjects(src, "table")
	if err != nil {
		return fmt.Errorf("read table schema: %w", err)
	}
	for _, t := range tables {
		if _, err := dst.Exec(t.sql); err != nil {
			return fmt.Errorf("create table %s: %w", t.name, err)
		}
		if err := copyTableRows(src, dst, t.name); err != nil {
			return fmt.Errorf("copy table %s: %w", t.name, err)
		}
	}

	indexes, err := schemaObjects(src, "index")
	if err != nil {
		return fmt.Errorf("read index schema: %w", err)
	}
	for _, idx := range indexes {
		if _, err := dst.Exec(idx.sql); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

type schemaObject struct {
	name string
	sql  string
}

// schemaObjects reads the CREATE statements for every sqlite_master
// entry of the given type, skipping SQLite's own internal tables.
func schemaObjects(db *sql.DB, objType string) ([]schemaObject, error) {
	rows, err := db.Query(
		`SELECT name, sql FROM sqlite_master WHERE type = ? AND sql IS NOT NULL AND name NOT LIKE 'sqlite_%'`,
		objType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schemaObject
	for rows.Next() {
		var o schemaObject
		if err := rows.Scan(&o.name, &o.sql); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// copyTableRows streams every row of table from src to dst inside a
// single transaction, scanning generically so the copy has no
// knowledge of the contact store's actual columns.
func copyTableRows(src, dst *sql.DB, table string) error {
	rows, err := src.Query(fmt.Sprintf("SELECT * FROM %q", table))
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	placeholders := strings.Repeat("?, ", len(cols))
	placeholders = strings.TrimSuffix(placeholders, ", ")
	insertSQL := fmt.Sprintf("INSERT INTO %q VALUES (%s)", table, placeholders)

	tx, err := dst.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := stmt.Exec(values...); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := rows.Err(); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) Close() {
	_ = s.db.Close()
}
