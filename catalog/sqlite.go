package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Techinsane-official/scrapper/models"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS catalog_entries (
	catalog_id TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS listings (
	retailer    TEXT NOT NULL,
	external_id TEXT NOT NULL,
	catalog_id  TEXT NOT NULL REFERENCES catalog_entries(catalog_id),
	PRIMARY KEY (retailer, external_id)
);
CREATE TABLE IF NOT EXISTS title_tokens (
	token      TEXT NOT NULL,
	catalog_id TEXT NOT NULL REFERENCES catalog_entries(catalog_id),
	PRIMARY KEY (token, catalog_id)
);
CREATE INDEX IF NOT EXISTS idx_listings_catalog ON listings(catalog_id);
CREATE INDEX IF NOT EXISTS idx_title_tokens_catalog ON title_tokens(catalog_id);
`

// maxQueryTokens bounds the IN clause of a token lookup.
const maxQueryTokens = 200

// SQLiteStore keeps the catalog in a SQLite database. Entries are stored as
// JSON documents next to listing and title-token index tables.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open catalog database %s: %w", path, err)
	}
	// One connection: catalog writes are serialized.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(10 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) FindByListing(ctx context.Context, key models.ListingKey) (*models.CatalogEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT e.payload FROM listings l
		JOIN catalog_entries e ON e.catalog_id = l.catalog_id
		WHERE l.retailer = ? AND l.external_id = ?`, key.Retailer, key.ExternalID)

	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find listing %s: %w", key, err)
	}
	return decodeEntry(payload)
}

func (s *SQLiteStore) FindByTokens(ctx context.Context, tokens []string) ([]*models.CatalogEntry, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if len(tokens) > maxQueryTokens {
		tokens = tokens[:maxQueryTokens]
	}

	args := make([]any, len(tokens))
	for i, t := range tokens {
		args[i] = t
	}
	query := `
		SELECT e.payload FROM catalog_entries e
		WHERE e.catalog_id IN (
			SELECT DISTINCT catalog_id FROM title_tokens WHERE token IN (?` + strings.Repeat(",?", len(tokens)-1) + `)
		)
		ORDER BY e.catalog_id`
	return s.queryEntries(ctx, query, args...)
}

func (s *SQLiteStore) Upsert(ctx context.Context, entries ...*models.CatalogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if e == nil {
			continue
		}
		if err := upsertEntry(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func upsertEntry(ctx context.Context, tx *sql.Tx, e *models.CatalogEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", e.CatalogID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO catalog_entries (catalog_id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(catalog_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		e.CatalogID, string(payload), e.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("upsert entry %s: %w", e.CatalogID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM listings WHERE catalog_id = ?`, e.CatalogID); err != nil {
		return fmt.Errorf("clear listings %s: %w", e.CatalogID, err)
	}
	for _, l := range e.Listings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO listings (retailer, external_id, catalog_id) VALUES (?, ?, ?)
			ON CONFLICT(retailer, external_id) DO UPDATE SET catalog_id = excluded.catalog_id`,
			l.Retailer, l.ExternalID, e.CatalogID); err != nil {
			return fmt.Errorf("index listing %s: %w", l.Key(), err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM title_tokens WHERE catalog_id = ?`, e.CatalogID); err != nil {
		return fmt.Errorf("clear tokens %s: %w", e.CatalogID, err)
	}
	for _, tok := range e.TitleTokens {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO title_tokens (token, catalog_id) VALUES (?, ?)`,
			tok, e.CatalogID); err != nil {
			return fmt.Errorf("index token %q: %w", tok, err)
		}
	}
	return nil
}

// All returns every entry ordered by catalog id.
func (s *SQLiteStore) All(ctx context.Context) ([]*models.CatalogEntry, error) {
	return s.queryEntries(ctx, `SELECT payload FROM catalog_entries ORDER BY catalog_id`)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) queryEntries(ctx context.Context, query string, args ...any) ([]*models.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	var out []*models.CatalogEntry
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		e, err := decodeEntry(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rows: %w", err)
	}
	return out, nil
}

func decodeEntry(payload string) (*models.CatalogEntry, error) {
	var e models.CatalogEntry
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, fmt.Errorf("decode catalog entry: %w", err)
	}
	if e.Product != nil {
		e.Product.CatalogID = e.CatalogID
	}
	return &e, nil
}
