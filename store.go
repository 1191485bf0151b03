package hisescript

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"

	"github.com/cryguy/hisescript/internal/scriptnode"
	"github.com/cryguy/hisescript/internal/valuetree"
)

// ErrNotFound is returned by Store lookups for unknown ids.
var ErrNotFound = errors.New("not found")

const storeSchema = `
CREATE TABLE IF NOT EXISTS scripts (
	id         TEXT PRIMARY KEY,
	blob       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS networks (
	id         TEXT PRIMARY KEY,
	xml        TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Store persists compressed scripts and DSP networks in SQLite. It
// implements ScriptLoader.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the store at {dataDir}/hisescript.sqlite3.
func OpenStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dataDir, "hisescript.sqlite3"))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	// Enable WAL mode for better concurrent access.
	_, _ = db.Exec("PRAGMA journal_mode=WAL")
	return initStore(db)
}

// NewMemoryStore creates an in-memory store for testing.
func NewMemoryStore() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory store: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	return initStore(db)
}

func initStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveScript stores source compressed under id.
func (s *Store) SaveScript(id, source string) error {
	blob, err := CompressScript(source)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO scripts (id, blob, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		id, blob, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("saving script %s: %w", id, err)
	}
	return nil
}

// LoadScript returns the source stored under id.
func (s *Store) LoadScript(id string) (string, error) {
	var blob string
	err := s.db.QueryRow(`SELECT blob FROM scripts WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("script %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("loading script %s: %w", id, err)
	}
	return DecompressScript(blob)
}

// SaveNetwork stores the persisted form of a network under its ID
// property.
func (s *Store) SaveNetwork(t *valuetree.Tree) error {
	id := t.String("ID")
	if id == "" {
		return errors.New("saving network: tree has no ID")
	}
	xml, err := t.XML()
	if err != nil {
		return fmt.Errorf("saving network %s: %w", id, err)
	}
	_, err = s.db.Exec(`INSERT INTO networks (id, xml, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET xml = excluded.xml, updated_at = excluded.updated_at`,
		id, xml, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("saving network %s: %w", id, err)
	}
	return nil
}

// LoadNetwork returns the persisted tree of network id.
func (s *Store) LoadNetwork(id string) (*valuetree.Tree, error) {
	var xml string
	err := s.db.QueryRow(`SELECT xml FROM networks WHERE id = ?`, id).Scan(&xml)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("network %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading network %s: %w", id, err)
	}
	t, err := valuetree.Parse([]byte(xml))
	if err != nil {
		return nil, fmt.Errorf("parsing network %s: %w", id, err)
	}
	return t, nil
}

// OpenNetwork loads network id and builds it with registry. Node errors
// are reported through the network's exception handler.
func (s *Store) OpenNetwork(id string, registry *scriptnode.Registry) (*scriptnode.Network, error) {
	t, err := s.LoadNetwork(id)
	if err != nil {
		return nil, err
	}
	return scriptnode.CreateFromValueTree(t, registry)
}

// ListNetworks returns the stored network ids in order.
func (s *Store) ListNetworks() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM networks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing networks: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("listing networks: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
