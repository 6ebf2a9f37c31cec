package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Jurisdiction is a seeded jurisdiction row.
type Jurisdiction struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// ModeOfAction is a seeded resistance-group row.
type ModeOfAction struct {
	Code            string   `json:"code"`
	Description     string   `json:"description"`
	ResistanceRisk  string   `json:"resistance_risk"`
	ChemicalClasses []string `json:"chemical_classes"`
}

// SeedReference inserts reference rows, and rewrites existing ones only when
// version is newer than the version they were seeded with. It returns the
// number of rows inserted or upgraded.
func (s *Store) SeedReference(ctx context.Context, version int, js []Jurisdiction, ms []ModeOfAction) (int, error) {
	changed := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, j := range js {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO jurisdictions (code, name, ref_version) VALUES (?, ?, ?)
				ON CONFLICT(code) DO UPDATE SET
					name = excluded.name,
					ref_version = excluded.ref_version
				WHERE excluded.ref_version > jurisdictions.ref_version
			`, j.Code, j.Name, version)
			if err != nil {
				return fmt.Errorf("seeding jurisdiction %s: %w", j.Code, err)
			}
			n, _ := res.RowsAffected()
			changed += int(n)
		}
		for _, m := range ms {
			classes, err := json.Marshal(m.ChemicalClasses)
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO modes_of_action (code, description, resistance_risk, chemical_classes, ref_version)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(code) DO UPDATE SET
					description = excluded.description,
					resistance_risk = excluded.resistance_risk,
					chemical_classes = excluded.chemical_classes,
					ref_version = excluded.ref_version
				WHERE excluded.ref_version > modes_of_action.ref_version
			`, m.Code, m.Description, m.ResistanceRisk, string(classes), version)
			if err != nil {
				return fmt.Errorf("seeding mode of action %s: %w", m.Code, err)
			}
			n, _ := res.RowsAffected()
			changed += int(n)
		}
		return nil
	})
	return changed, err
}

// ReferenceVersion returns the lowest version any seeded row carries, or 0
// when nothing has been seeded.
func (s *Store) ReferenceVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MIN(v), 0) FROM (
			SELECT ref_version AS v FROM jurisdictions
			UNION ALL
			SELECT ref_version FROM modes_of_action
		)`).Scan(&v)
	return v, err
}

// ModesOfAction lists the seeded mode-of-action taxonomy.
func (s *Store) ModesOfAction(ctx context.Context) ([]ModeOfAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, description, COALESCE(resistance_risk, ''), chemical_classes
		FROM modes_of_action ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ModeOfAction
	for rows.Next() {
		var m ModeOfAction
		var classes string
		if err := rows.Scan(&m.Code, &m.Description, &m.ResistanceRisk, &classes); err != nil {
			return nil, err
		}
		m.ChemicalClasses = decodeSet(classes)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Clear deletes every node and relationship. The embedding cache survives
// since it is keyed by content, not by graph identity.
func (s *Store) Clear(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{
			"edges", "vec_chunks", "chunks",
			"restrictions", "application_rates", "registered_uses",
			"products", "active_constituents", "crops", "weeds", "growth_stages",
			"documents", "jurisdictions", "modes_of_action",
		} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}
		return nil
	})
}

// Stats holds per-type node and relationship counts.
type Stats struct {
	Nodes             map[string]int `json:"nodes"`
	Relationships     map[string]int `json:"relationships"`
	Embeddings        int            `json:"embeddings"`
	EmbeddingsMissing int            `json:"embeddings_missing"`
	CachedEmbeddings  int            `json:"cached_embeddings"`
}

// TotalNodes sums node counts over all labels.
func (st *Stats) TotalNodes() int {
	n := 0
	for _, c := range st.Nodes {
		n += c
	}
	return n
}

// TotalRelationships sums relationship counts over all types.
func (st *Stats) TotalRelationships() int {
	n := 0
	for _, c := range st.Relationships {
		n += c
	}
	return n
}

// Stats counts nodes per label and relationships per type. Every known
// label and type is present, with zero when absent.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Nodes: make(map[string]int), Relationships: make(map[string]int)}
	for _, nt := range nodeTables {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+nt.table).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", nt.table, err)
		}
		stats.Nodes[nt.label] = n
	}
	for _, rel := range RelationshipTypes {
		stats.Relationships[rel] = 0
	}
	rows, err := s.db.QueryContext(ctx, "SELECT rel_type, COUNT(*) FROM edges GROUP BY rel_type")
	if err != nil {
		return nil, fmt.Errorf("counting edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rel string
		var n int
		if err := rows.Scan(&rel, &n); err != nil {
			return nil, err
		}
		stats.Relationships[rel] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM vec_chunks", &stats.Embeddings},
		{"SELECT COUNT(*) FROM chunks WHERE embedding_missing = 1", &stats.EmbeddingsMissing},
		{"SELECT COUNT(*) FROM embedding_cache", &stats.CachedEmbeddings},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// NameCount pairs an entity name with a count.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TopByUses ranks weeds or crops by the number of registered uses that
// reference them.
func (s *Store) TopByUses(ctx context.Context, label string, limit int) ([]NameCount, error) {
	var q string
	switch label {
	case LabelWeed:
		q = `SELECT w.name, COUNT(u.id) FROM weeds w JOIN registered_uses u ON u.weed_id = w.id
			GROUP BY w.id ORDER BY COUNT(u.id) DESC, w.name LIMIT ?`
	case LabelCrop:
		q = `SELECT c.name, COUNT(u.id) FROM crops c JOIN registered_uses u ON u.crop_id = c.id
			GROUP BY c.id ORDER BY COUNT(u.id) DESC, c.name LIMIT ?`
	default:
		return nil, fmt.Errorf("top entities: unsupported label %s", label)
	}
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []NameCount
	for rows.Next() {
		var nc NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, err
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}
