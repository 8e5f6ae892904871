package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	dbFileName = "parley.db"

	// KeyDefaultRouting holds the standing default routing token.
	KeyDefaultRouting = "default_routing"
)

// ConfigDir returns the per-user directory parley keeps its state in.
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, herr := os.UserHomeDir()
		if herr != nil {
			return "", err
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "parley"), nil
}

// OpenParleyDB opens (and migrates) the local database in dir. An empty dir
// means ConfigDir().
func OpenParleyDB(dir string) (*sql.DB, error) {
	if dir == "" {
		d, err := ConfigDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create data dir")
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, dbFileName))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	// One writer is enough for a single-user client and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE IF NOT EXISTS preferences (
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY(user_id, key)
		);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "migrate")
		}
	}

	return db, nil
}

// GetPreference returns the stored value, or "" with a nil error when unset.
func GetPreference(ctx context.Context, db *sql.DB, userID, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx,
		"SELECT value FROM preferences WHERE user_id = ? AND key = ?",
		userID,
		key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func SetPreference(ctx context.Context, db *sql.DB, userID, key, value string, nowUnix int64) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO preferences(user_id, key, value, updated_at) VALUES(?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		userID,
		key,
		value,
		nowUnix,
	)
	return err
}

// PreferenceStore stores the standing default routing token in sqlite.
type PreferenceStore struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewPreferenceStore(db *sql.DB) *PreferenceStore {
	return &PreferenceStore{DB: db, Now: time.Now}
}

func (s *PreferenceStore) DefaultRouting(ctx context.Context, userID string) (string, error) {
	return GetPreference(ctx, s.DB, userID, KeyDefaultRouting)
}

func (s *PreferenceStore) SaveDefaultRouting(ctx context.Context, userID, token string) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return errors.Wrap(SetPreference(ctx, s.DB, userID, KeyDefaultRouting, token, now().Unix()), "save default routing")
}
