package memproc

import (
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const indexSchema = `
create table if not exists assets (
	id   text not null,
	url  text not null,
	sha256 text not null,
	timestamp datetime default CURRENT_TIMESTAMP
);
create index if not exists index_id_sha256 on assets(id, sha256);
`

// ContentIndex wraps an sqlite database mapping asset identifiers to the
// content hash of the fetched file. It is an optional inspection aid beside
// the JSON ledgers, not a source of truth for skip decisions.
type ContentIndex struct {
	Path string
	mu   sync.Mutex
	db   *sqlx.DB
}

// EnsureDB creates the database with schema, if it is not already set up.
func (c *ContentIndex) EnsureDB() error {
	if c.db != nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	db, err := sqlx.Connect("sqlite", c.Path)
	if err != nil {
		return err
	}
	if _, err := db.Exec(indexSchema); err != nil {
		return err
	}
	c.db = db
	return nil
}

// Insert records one fetched asset. We lock at the application level to
// avoid 'database is locked (5) (SQLITE_BUSY)' under concurrent workers.
func (c *ContentIndex) Insert(id, url, sha256hex string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec(`insert into assets (id, url, sha256) values (?, ?, ?)`, id, url, sha256hex)
	return err
}

// Hashes returns the recorded content hashes for one identifier, in insert
// order. More than one hash for the same identifier means the remote asset
// changed between runs.
func (c *ContentIndex) Hashes(id string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var hashes []string
	err := c.db.Select(&hashes, `select sha256 from assets where id = ? order by rowid`, id)
	return hashes, err
}

// Close closes the underlying database.
func (c *ContentIndex) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
