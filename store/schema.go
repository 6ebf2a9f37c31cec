package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/bbiangul/agrokg/kgerr"
)

// tablesSQL returns the DDL for all tables. embeddingDim controls the vec0
// virtual table dimension. Uniqueness is declared by named indexes (see
// Object) rather than inline, so a conflicting pre-existing index can be
// reported by name.
func tablesSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Source documents; src_rank orders documents by (effective date, version)
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    source_id TEXT NOT NULL,
    version INTEGER,
    effective_date TEXT,
    title TEXT,
    src_rank TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS products (
    id INTEGER PRIMARY KEY,
    registration_number TEXT NOT NULL,
    name TEXT,
    formulation_type TEXT,
    registrant TEXT,
    application_methods JSON NOT NULL DEFAULT '[]',
    compatible_products JSON NOT NULL DEFAULT '[]',
    src_rank TEXT NOT NULL DEFAULT '',
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS active_constituents (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    chemical_group TEXT,
    src_rank TEXT NOT NULL DEFAULT '',
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Reference data, seeded by the schema manager only
CREATE TABLE IF NOT EXISTS modes_of_action (
    id INTEGER PRIMARY KEY,
    code TEXT NOT NULL,
    description TEXT NOT NULL,
    resistance_risk TEXT,
    chemical_classes JSON NOT NULL DEFAULT '[]',
    ref_version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS jurisdictions (
    id INTEGER PRIMARY KEY,
    code TEXT NOT NULL,
    name TEXT NOT NULL,
    ref_version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS crops (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    crop_class TEXT,
    aliases JSON NOT NULL DEFAULT '[]',
    src_rank TEXT NOT NULL DEFAULT '',
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS weeds (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    scientific_name TEXT,
    lifecycle TEXT,
    aliases JSON NOT NULL DEFAULT '[]',
    src_rank TEXT NOT NULL DEFAULT '',
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS growth_stages (
    id INTEGER PRIMARY KEY,
    code TEXT NOT NULL,
    description TEXT,
    ordinal TEXT,
    src_rank TEXT NOT NULL DEFAULT '',
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Join entity: one row per (product, crop, weed, rate descriptor)
CREATE TABLE IF NOT EXISTS registered_uses (
    id INTEGER PRIMARY KEY,
    product_id INTEGER NOT NULL REFERENCES products(id),
    crop_id INTEGER NOT NULL REFERENCES crops(id),
    weed_id INTEGER NOT NULL REFERENCES weeds(id),
    rate_descriptor TEXT NOT NULL,
    rate_text TEXT,
    comments TEXT,
    src_rank TEXT NOT NULL DEFAULT '',
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS application_rates (
    id INTEGER PRIMARY KEY,
    use_id INTEGER NOT NULL REFERENCES registered_uses(id),
    value_text TEXT NOT NULL,
    unit TEXT NOT NULL,
    method TEXT NOT NULL,
    amount TEXT,
    src_rank TEXT NOT NULL DEFAULT '',
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS restrictions (
    id INTEGER PRIMARY KEY,
    use_id INTEGER NOT NULL REFERENCES registered_uses(id),
    restriction_type TEXT NOT NULL,
    value TEXT,
    unit TEXT,
    src_rank TEXT NOT NULL DEFAULT '',
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Ordered text units of a document
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES documents(id),
    seq INTEGER NOT NULL,
    text TEXT NOT NULL,
    section_type TEXT NOT NULL DEFAULT 'general',
    content_hash TEXT NOT NULL,
    embedding_missing INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Chunk vectors via sqlite-vec, cosine distance
CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
    chunk_id INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

-- Keyword search over chunk text via FTS5
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    text,
    content='chunks',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, text) VALUES (new.id, new.text);
END;
CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.id, old.text);
END;
CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.id, old.text);
    INSERT INTO chunks_fts(rowid, text) VALUES (new.id, new.text);
END;

-- Embeddings keyed by content hash, so unchanged text is never re-embedded
CREATE TABLE IF NOT EXISTS embedding_cache (
    content_hash TEXT NOT NULL,
    model TEXT NOT NULL,
    embedding BLOB NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (content_hash, model)
);

-- All typed relationships. discriminator holds the edge properties that
-- distinguish parallel edges between the same pair of nodes.
CREATE TABLE IF NOT EXISTS edges (
    id INTEGER PRIMARY KEY,
    rel_type TEXT NOT NULL,
    src_kind TEXT NOT NULL,
    src_id INTEGER NOT NULL,
    dst_kind TEXT NOT NULL,
    dst_id INTEGER NOT NULL,
    discriminator TEXT NOT NULL DEFAULT '',
    props JSON NOT NULL DEFAULT '{}',
    src_rank TEXT NOT NULL DEFAULT '',
    source_document_id INTEGER,
    run_id TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`, embeddingDim)
}

// Object is a named schema object (a uniqueness constraint or a lookup
// index). DDL is written without IF NOT EXISTS; it is compared against
// sqlite_master to detect incompatible pre-existing definitions.
type Object struct {
	Name string
	DDL  string
}

// ApplyObjects creates every object in one transaction. An object whose name
// already exists with a different definition, or whose creation fails (for
// example a unique index over duplicate rows), aborts the whole batch with a
// schema error naming that object.
func (s *Store) ApplyObjects(ctx context.Context, objects []Object) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema batch: %w", err)
	}
	for _, obj := range objects {
		if err := applyObject(ctx, tx, obj); err != nil {
			tx.Rollback()
			return kgerr.Schema(err, obj.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing schema batch: %w", err)
	}
	return nil
}

func applyObject(ctx context.Context, tx *sql.Tx, obj Object) error {
	var existing sql.NullString
	err := tx.QueryRowContext(ctx,
		"SELECT sql FROM sqlite_master WHERE name = ?", obj.Name).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		_, err := tx.ExecContext(ctx, obj.DDL)
		return err
	case err != nil:
		return fmt.Errorf("inspecting %s: %w", obj.Name, err)
	}
	if normalizeDDL(existing.String) != normalizeDDL(obj.DDL) {
		return fmt.Errorf("existing definition %q is incompatible with %q", existing.String, obj.DDL)
	}
	return nil
}

func normalizeDDL(ddl string) string {
	s := strings.ToLower(strings.Join(strings.Fields(ddl), " "))
	s = strings.ReplaceAll(s, " if not exists", "")
	s = strings.ReplaceAll(s, "( ", "(")
	s = strings.ReplaceAll(s, " )", ")")
	return strings.ReplaceAll(s, ", ", ",")
}

// ObjectExists reports whether a schema object with the given name exists.
func (s *Store) ObjectExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE name = ?", name).Scan(&n)
	return n > 0, err
}
