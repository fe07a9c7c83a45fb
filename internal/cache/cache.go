// Package cache implements C7, a component this service adds beyond
// the distilled specification: a persistent gadget cache keyed by
// binary content digest, inst_count and kind, so LoadGadgets can skip
// re-scanning a binary it has already scanned under the same options.
// It is backed by database/sql the way the teacher's own DBManager
// picks a driver by name, and registers every SQL driver the rest of
// the module pulls in (modernc.org/sqlite by default, plus
// lib/pq/go-sql-driver/mysql/denisenkom/go-mssqldb for callers who
// point it at a shared cache server instead of a local file).
//
// A cache is strictly an optimization: every failure mode here (open
// error, query error, corrupt payload) is reported to the caller but
// must never be treated as a scan failure — the orchestrator falls
// back to scanning on any cache error.
package cache

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/gob"
	"encoding/hex"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"ropsvc/internal/gadget"
)

// ContentDigester is an optional capability a loader handle may
// implement to let the cache key entries off the underlying binary's
// content instead of its name. Loaders that don't implement it simply
// never participate in caching (§ "cache failures never fail
// LoadGadgets" extends to "absence of this capability").
type ContentDigester interface {
	ContentDigest() [32]byte
}

// DefaultDriver names the zero-configuration embedded driver.
const DefaultDriver = "sqlite"

// Cache is a gadget cache backed by a SQL table.
type Cache struct {
	db *sql.DB
}

// Open opens (and if necessary creates) the cache table using
// driverName/dsn, e.g. ("sqlite", "file:ropsvc-cache.db").
func Open(driverName, dsn string) (*Cache, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	const schema = `CREATE TABLE IF NOT EXISTS gadget_cache (
		digest     TEXT NOT NULL,
		inst_count INTEGER NOT NULL,
		kind       TEXT NOT NULL,
		payload    BLOB NOT NULL,
		PRIMARY KEY (digest, inst_count, kind)
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error { return c.db.Close() }

// Key derives the cache key for content, a hex encoding of its digest.
// instCount and kind further scope lookups within Get/Put.
func Key(content [32]byte) string {
	return hex.EncodeToString(content[:])
}

// Digest hashes raw file bytes into the form ContentDigester returns,
// for loaders built directly from a byte slice the caller already has.
func Digest(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Get returns the cached gadget set for (digest, instCount, kind), and
// whether it was found.
func (c *Cache) Get(digest string, instCount int, kind string) ([]*gadget.Gadget, bool, error) {
	row := c.db.QueryRow(
		`SELECT payload FROM gadget_cache WHERE digest = ? AND inst_count = ? AND kind = ?`,
		digest, instCount, kind,
	)
	var payload []byte
	switch err := row.Scan(&payload); err {
	case nil:
	case sql.ErrNoRows:
		return nil, false, nil
	default:
		return nil, false, err
	}
	gadgets, err := decode(payload)
	if err != nil {
		return nil, false, err
	}
	return gadgets, true, nil
}

// Put stores gadgets under (digest, instCount, kind), replacing any
// prior entry.
func (c *Cache) Put(digest string, instCount int, kind string, gadgets []*gadget.Gadget) error {
	payload, err := encode(gadgets)
	if err != nil {
		return err
	}
	_, err = c.db.Exec(
		`INSERT OR REPLACE INTO gadget_cache (digest, inst_count, kind, payload) VALUES (?, ?, ?, ?)`,
		digest, instCount, kind, payload,
	)
	return err
}

func encode(gadgets []*gadget.Gadget) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gadgets); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(payload []byte) ([]*gadget.Gadget, error) {
	var gadgets []*gadget.Gadget
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&gadgets); err != nil {
		return nil, err
	}
	if gadgets == nil {
		gadgets = make([]*gadget.Gadget, 0)
	}
	return gadgets, nil
}
