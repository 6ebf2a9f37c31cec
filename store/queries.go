package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// UseFilter selects registered uses. Names and codes must already be
// canonical. Zero-value fields do not filter.
type UseFilter struct {
	Weed               string
	Crop               string
	RegistrationNumber string
	Jurisdiction       string
	ModeOfAction       string
	ExcludeModes       []string
	UseIDs             []int64
	Limit              int
}

// UseRow is one registered use with its product, crop and weed.
type UseRow struct {
	UseID              int64  `json:"use_id"`
	ProductID          int64  `json:"product_id"`
	RegistrationNumber string `json:"registration_number"`
	ProductName        string `json:"product_name"`
	CropID             int64  `json:"crop_id"`
	Crop               string `json:"crop"`
	WeedID             int64  `json:"weed_id"`
	Weed               string `json:"weed"`
	WeedScientificName string `json:"weed_scientific_name,omitempty"`
	RateDescriptor     string `json:"rate_descriptor"`
	RateText           string `json:"rate_text"`
	Comments           string `json:"comments,omitempty"`
}

// FindUses returns uses matching f, ordered by product name then rate.
func (s *Store) FindUses(ctx context.Context, f UseFilter) ([]UseRow, error) {
	var (
		where []string
		args  []any
	)
	if f.Weed != "" {
		where = append(where, "w.name = ?")
		args = append(args, f.Weed)
	}
	if f.Crop != "" {
		where = append(where, "c.name = ?")
		args = append(args, f.Crop)
	}
	if f.RegistrationNumber != "" {
		where = append(where, "p.registration_number = ?")
		args = append(args, f.RegistrationNumber)
	}
	if f.Jurisdiction != "" {
		where = append(where, `EXISTS (
			SELECT 1 FROM edges e JOIN jurisdictions j ON j.id = e.dst_id
			WHERE e.rel_type = 'REGISTERED_IN' AND e.src_id = u.id AND j.code = ?)`)
		args = append(args, f.Jurisdiction)
	}
	if f.ModeOfAction != "" {
		where = append(where, `EXISTS (
			SELECT 1 FROM edges e JOIN modes_of_action m ON m.id = e.dst_id
			WHERE e.rel_type = 'HAS_MODE_OF_ACTION' AND e.src_id = p.id AND m.code = ?)`)
		args = append(args, f.ModeOfAction)
	}
	if len(f.ExcludeModes) > 0 {
		where = append(where, fmt.Sprintf(`NOT EXISTS (
			SELECT 1 FROM edges e JOIN modes_of_action m ON m.id = e.dst_id
			WHERE e.rel_type = 'HAS_MODE_OF_ACTION' AND e.src_id = p.id AND m.code IN (%s))`,
			placeholders(len(f.ExcludeModes))))
		for _, m := range f.ExcludeModes {
			args = append(args, m)
		}
	}
	if len(f.UseIDs) > 0 {
		where = append(where, fmt.Sprintf("u.id IN (%s)", placeholders(len(f.UseIDs))))
		args = append(args, int64Args(f.UseIDs)...)
	}

	q := `
		SELECT u.id, p.id, p.registration_number, COALESCE(p.name, ''),
			c.id, c.name, w.id, w.name, COALESCE(w.scientific_name, ''),
			u.rate_descriptor, COALESCE(u.rate_text, u.rate_descriptor), COALESCE(u.comments, ''),
			(SELECT MIN(CAST(r.amount AS REAL)) FROM application_rates r WHERE r.use_id = u.id) AS rate_amount
		FROM registered_uses u
		JOIN products p ON p.id = u.product_id
		JOIN crops c ON c.id = u.crop_id
		JOIN weeds w ON w.id = u.weed_id`
	if len(where) > 0 {
		q += "\nWHERE " + strings.Join(where, " AND ")
	}
	q += `
		ORDER BY COALESCE(p.name, p.registration_number), rate_amount IS NULL, rate_amount,
			u.rate_descriptor, c.name, w.name, u.id`
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("finding uses: %w", err)
	}
	defer rows.Close()

	var out []UseRow
	for rows.Next() {
		var r UseRow
		var amount sql.NullFloat64
		if err := rows.Scan(&r.UseID, &r.ProductID, &r.RegistrationNumber, &r.ProductName,
			&r.CropID, &r.Crop, &r.WeedID, &r.Weed, &r.WeedScientificName,
			&r.RateDescriptor, &r.RateText, &r.Comments, &amount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Rate is an ApplicationRate node.
type Rate struct {
	ValueText string `json:"value"`
	Unit      string `json:"unit"`
	Method    string `json:"method,omitempty"`
	Amount    string `json:"amount,omitempty"`
}

// Stage is a GrowthStage node.
type Stage struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// RestrictionRow is a Restriction node.
type RestrictionRow struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
	Unit  string `json:"unit,omitempty"`
}

// ControlClaim is the property set of one CONTROLS edge.
type ControlClaim struct {
	Efficacy       string `json:"efficacy,omitempty"`
	MaxGrowthStage string `json:"max_growth_stage,omitempty"`
	Document       string `json:"document,omitempty"`
}

// DocRef identifies a source document.
type DocRef struct {
	SourceID      string `json:"source_id"`
	Version       int    `json:"version"`
	EffectiveDate string `json:"effective_date,omitempty"`
}

// UseContext is the structured neighbourhood of one registered use.
type UseContext struct {
	Rates         []Rate           `json:"rates"`
	Timings       []Stage          `json:"timings,omitempty"`
	Restrictions  []RestrictionRow `json:"restrictions,omitempty"`
	Jurisdictions []string         `json:"jurisdictions,omitempty"`
	Controls      []ControlClaim   `json:"controls,omitempty"`
	ModesOfAction []string         `json:"modes_of_action,omitempty"`
	Documents     []DocRef         `json:"documents,omitempty"`
}

// UseContexts loads rate, timing, restriction, jurisdiction, efficacy, mode
// of action and label documents for each use.
func (s *Store) UseContexts(ctx context.Context, uses []UseRow) (map[int64]*UseContext, error) {
	out := make(map[int64]*UseContext, len(uses))
	if len(uses) == 0 {
		return out, nil
	}
	useIDs := make([]int64, len(uses))
	byProduct := make(map[int64][]int64)
	for i, u := range uses {
		useIDs[i] = u.UseID
		out[u.UseID] = &UseContext{}
		byProduct[u.ProductID] = append(byProduct[u.ProductID], u.UseID)
	}
	ph := placeholders(len(useIDs))
	args := int64Args(useIDs)

	err := s.eachRow(ctx, fmt.Sprintf(`
		SELECT e.src_id, r.value_text, r.unit, r.method, COALESCE(r.amount, '')
		FROM edges e JOIN application_rates r ON r.id = e.dst_id
		WHERE e.rel_type = 'HAS_RATE' AND e.src_id IN (%s)
		ORDER BY e.src_id, r.value_text, r.unit, r.method`, ph), args, func(rows *sql.Rows) error {
		var id int64
		var r Rate
		if err := rows.Scan(&id, &r.ValueText, &r.Unit, &r.Method, &r.Amount); err != nil {
			return err
		}
		out[id].Rates = append(out[id].Rates, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading rates: %w", err)
	}

	err = s.eachRow(ctx, fmt.Sprintf(`
		SELECT e.src_id, g.code, COALESCE(g.description, '')
		FROM edges e JOIN growth_stages g ON g.id = e.dst_id
		WHERE e.rel_type = 'AT_TIMING' AND e.src_id IN (%s)
		ORDER BY e.src_id, COALESCE(CAST(g.ordinal AS REAL), 1e9), g.code`, ph), args, func(rows *sql.Rows) error {
		var id int64
		var st Stage
		if err := rows.Scan(&id, &st.Code, &st.Description); err != nil {
			return err
		}
		out[id].Timings = append(out[id].Timings, st)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading timings: %w", err)
	}

	err = s.eachRow(ctx, fmt.Sprintf(`
		SELECT e.src_id, r.restriction_type, COALESCE(r.value, ''), COALESCE(r.unit, '')
		FROM edges e JOIN restrictions r ON r.id = e.dst_id
		WHERE e.rel_type = 'WITH_RESTRICTION' AND e.src_id IN (%s)
		ORDER BY e.src_id, r.restriction_type`, ph), args, func(rows *sql.Rows) error {
		var id int64
		var r RestrictionRow
		if err := rows.Scan(&id, &r.Type, &r.Value, &r.Unit); err != nil {
			return err
		}
		out[id].Restrictions = append(out[id].Restrictions, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading restrictions: %w", err)
	}

	err = s.eachRow(ctx, fmt.Sprintf(`
		SELECT e.src_id, j.code
		FROM edges e JOIN jurisdictions j ON j.id = e.dst_id
		WHERE e.rel_type = 'REGISTERED_IN' AND e.src_id IN (%s)
		ORDER BY e.src_id, j.code`, ph), args, func(rows *sql.Rows) error {
		var id int64
		var code string
		if err := rows.Scan(&id, &code); err != nil {
			return err
		}
		out[id].Jurisdictions = append(out[id].Jurisdictions, code)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading jurisdictions: %w", err)
	}

	err = s.eachRow(ctx, fmt.Sprintf(`
		SELECT e.src_id, COALESCE(json_extract(e.props, '$.efficacy'), ''),
			COALESCE(json_extract(e.props, '$.max_growth_stage'), ''), COALESCE(d.source_id, '')
		FROM edges e LEFT JOIN documents d ON d.id = e.source_document_id
		WHERE e.rel_type = 'CONTROLS' AND e.src_id IN (%s)
		ORDER BY e.src_id, e.src_rank DESC, e.discriminator`, ph), args, func(rows *sql.Rows) error {
		var id int64
		var c ControlClaim
		if err := rows.Scan(&id, &c.Efficacy, &c.MaxGrowthStage, &c.Document); err != nil {
			return err
		}
		out[id].Controls = append(out[id].Controls, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading control claims: %w", err)
	}

	productIDs := make([]int64, 0, len(byProduct))
	for pid := range byProduct {
		productIDs = append(productIDs, pid)
	}
	modes, err := s.productModes(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	docs, err := s.productDocuments(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	for pid, ids := range byProduct {
		for _, id := range ids {
			out[id].ModesOfAction = modes[pid]
			out[id].Documents = docs[pid]
		}
	}
	return out, nil
}

func (s *Store) productModes(ctx context.Context, productIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string)
	if len(productIDs) == 0 {
		return out, nil
	}
	err := s.eachRow(ctx, fmt.Sprintf(`
		SELECT e.src_id, m.code
		FROM edges e JOIN modes_of_action m ON m.id = e.dst_id
		WHERE e.rel_type = 'HAS_MODE_OF_ACTION' AND e.src_id IN (%s)
		ORDER BY e.src_id, m.code`, placeholders(len(productIDs))), int64Args(productIDs), func(rows *sql.Rows) error {
		var id int64
		var code string
		if err := rows.Scan(&id, &code); err != nil {
			return err
		}
		out[id] = append(out[id], code)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading modes of action: %w", err)
	}
	return out, nil
}

// productDocuments returns each product's label documents, newest first.
func (s *Store) productDocuments(ctx context.Context, productIDs []int64) (map[int64][]DocRef, error) {
	out := make(map[int64][]DocRef)
	if len(productIDs) == 0 {
		return out, nil
	}
	err := s.eachRow(ctx, fmt.Sprintf(`
		SELECT e.src_id, d.source_id, COALESCE(d.version, 0), COALESCE(d.effective_date, '')
		FROM edges e JOIN documents d ON d.id = e.dst_id
		WHERE e.rel_type = 'HAS_LABEL' AND e.src_id IN (%s)
		ORDER BY e.src_id, d.src_rank DESC, d.source_id`, placeholders(len(productIDs))), int64Args(productIDs), func(rows *sql.Rows) error {
		var id int64
		var d DocRef
		if err := rows.Scan(&id, &d.SourceID, &d.Version, &d.EffectiveDate); err != nil {
			return err
		}
		out[id] = append(out[id], d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading label documents: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Entity linking support
// ---------------------------------------------------------------------------

// NamedEntity is a linkable node: its canonical name plus known aliases.
type NamedEntity struct {
	Ref     EntityRef `json:"ref"`
	Name    string    `json:"name"`
	Aliases []string  `json:"aliases,omitempty"`
}

// LinkableEntities returns every weed, crop and named product.
func (s *Store) LinkableEntities(ctx context.Context) ([]NamedEntity, error) {
	var out []NamedEntity
	for _, q := range []struct{ kind, sql string }{
		{LabelWeed, "SELECT id, name, aliases FROM weeds ORDER BY id"},
		{LabelCrop, "SELECT id, name, aliases FROM crops ORDER BY id"},
		{LabelProduct, "SELECT id, name, '[]' FROM products WHERE name IS NOT NULL AND name != '' ORDER BY id"},
	} {
		err := s.eachRow(ctx, q.sql, nil, func(rows *sql.Rows) error {
			var e NamedEntity
			var aliases string
			if err := rows.Scan(&e.Ref.ID, &e.Name, &aliases); err != nil {
				return err
			}
			e.Ref.Kind = q.kind
			e.Aliases = decodeSet(aliases)
			out = append(out, e)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("loading %s names: %w", q.kind, err)
		}
	}
	return out, nil
}

// SearchNames matches weeds or crops whose name or alias contains term.
func (s *Store) SearchNames(ctx context.Context, label, term string, limit int) ([]NamedEntity, error) {
	var table string
	switch label {
	case LabelWeed:
		table = "weeds"
	case LabelCrop:
		table = "crops"
	default:
		return nil, fmt.Errorf("search: unsupported label %s", label)
	}
	pattern := "%" + strings.ToLower(term) + "%"
	var out []NamedEntity
	err := s.eachRow(ctx, fmt.Sprintf(`
		SELECT id, name, aliases FROM %s
		WHERE lower(name) LIKE ? OR lower(aliases) LIKE ?
		ORDER BY name LIMIT ?`, table), []any{pattern, pattern, limit}, func(rows *sql.Rows) error {
		var e NamedEntity
		var aliases string
		if err := rows.Scan(&e.Ref.ID, &e.Name, &aliases); err != nil {
			return err
		}
		e.Ref.Kind = label
		e.Aliases = decodeSet(aliases)
		out = append(out, e)
		return nil
	})
	return out, err
}

// Mentions returns the entities each chunk links to.
func (s *Store) Mentions(ctx context.Context, chunkIDs []int64) (map[int64][]NamedEntity, error) {
	out := make(map[int64][]NamedEntity)
	if len(chunkIDs) == 0 {
		return out, nil
	}
	err := s.eachRow(ctx, fmt.Sprintf(`
		SELECT e.src_id, e.dst_kind, e.dst_id,
			COALESCE(w.name, c.name, p.name, p.registration_number, '')
		FROM edges e
		LEFT JOIN weeds w ON e.dst_kind = 'Weed' AND w.id = e.dst_id
		LEFT JOIN crops c ON e.dst_kind = 'Crop' AND c.id = e.dst_id
		LEFT JOIN products p ON e.dst_kind = 'Product' AND p.id = e.dst_id
		WHERE e.rel_type = 'MENTIONS' AND e.src_id IN (%s)
		ORDER BY e.src_id, e.dst_kind, e.dst_id`, placeholders(len(chunkIDs))), int64Args(chunkIDs), func(rows *sql.Rows) error {
		var chunkID int64
		var e NamedEntity
		if err := rows.Scan(&chunkID, &e.Ref.Kind, &e.Ref.ID, &e.Name); err != nil {
			return err
		}
		out[chunkID] = append(out[chunkID], e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading mentions: %w", err)
	}
	return out, nil
}

// UsesForEntity returns the ids of the registered uses one hop from a weed
// (via CONTROLS), a crop (via FOR_CROP) or a product (via HAS_USE).
func (s *Store) UsesForEntity(ctx context.Context, ref EntityRef) ([]int64, error) {
	var q string
	switch ref.Kind {
	case LabelWeed:
		q = "SELECT DISTINCT src_id FROM edges WHERE rel_type = 'CONTROLS' AND dst_kind = 'Weed' AND dst_id = ? ORDER BY src_id"
	case LabelCrop:
		q = "SELECT DISTINCT src_id FROM edges WHERE rel_type = 'FOR_CROP' AND dst_kind = 'Crop' AND dst_id = ? ORDER BY src_id"
	case LabelProduct:
		q = "SELECT DISTINCT dst_id FROM edges WHERE rel_type = 'HAS_USE' AND src_kind = 'Product' AND src_id = ? ORDER BY dst_id"
	default:
		return nil, fmt.Errorf("no use neighbourhood for %s", ref.Kind)
	}
	var ids []int64
	err := s.eachRow(ctx, q, []any{ref.ID}, func(rows *sql.Rows) error {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

// ---------------------------------------------------------------------------
// Chunk search
// ---------------------------------------------------------------------------

// ChunkHit is a chunk returned by vector or keyword search.
type ChunkHit struct {
	Chunk
	DocumentSourceID string    `json:"document"`
	EffectiveDate    string    `json:"effective_date,omitempty"`
	Distance         float64   `json:"distance"`
	Embedding        []float32 `json:"-"`
}

// VectorSearch returns the k nearest chunks by cosine distance. Chunks
// stored without an embedding have no vector row and never match.
func (s *Store) VectorSearch(ctx context.Context, query []float32, k int) ([]ChunkHit, error) {
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serializing query embedding: %w", err)
	}
	var out []ChunkHit
	err = s.eachRow(ctx, `
		SELECT v.chunk_id, v.distance, v.embedding,
			c.document_id, c.seq, c.text, c.section_type, c.content_hash,
			d.source_id, COALESCE(d.effective_date, '')
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance, v.chunk_id
	`, []any{blob, k}, func(rows *sql.Rows) error {
		var h ChunkHit
		var emb []byte
		if err := rows.Scan(&h.ID, &h.Distance, &emb,
			&h.DocumentID, &h.Seq, &h.Text, &h.SectionType, &h.ContentHash,
			&h.DocumentSourceID, &h.EffectiveDate); err != nil {
			return err
		}
		h.Embedding = deserializeFloat32(emb)
		out = append(out, h)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return out, nil
}

// KeywordChunks runs an FTS5 query over chunk text. Distance holds the BM25
// rank (lower is better).
func (s *Store) KeywordChunks(ctx context.Context, ftsQuery string, limit int) ([]ChunkHit, error) {
	var out []ChunkHit
	err := s.eachRow(ctx, `
		SELECT f.rowid, f.rank,
			c.document_id, c.seq, c.text, c.section_type, c.content_hash, c.embedding_missing,
			d.source_id, COALESCE(d.effective_date, '')
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.rowid
		JOIN documents d ON d.id = c.document_id
		WHERE chunks_fts MATCH ?
		ORDER BY f.rank, f.rowid
		LIMIT ?
	`, []any{ftsQuery, limit}, func(rows *sql.Rows) error {
		var h ChunkHit
		if err := rows.Scan(&h.ID, &h.Distance,
			&h.DocumentID, &h.Seq, &h.Text, &h.SectionType, &h.ContentHash, &h.EmbeddingMissing,
			&h.DocumentSourceID, &h.EffectiveDate); err != nil {
			return err
		}
		out = append(out, h)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

// ConstituentRow is a product's active constituent with its concentration.
type ConstituentRow struct {
	Name          string   `json:"name"`
	ChemicalGroup string   `json:"chemical_group,omitempty"`
	Concentration *float64 `json:"concentration,omitempty"`
	Unit          string   `json:"unit,omitempty"`
}

// ProductRow is a product with its direct neighbourhood.
type ProductRow struct {
	ID                 int64            `json:"id"`
	RegistrationNumber string           `json:"registration_number"`
	Name               string           `json:"name"`
	FormulationType    string           `json:"formulation_type,omitempty"`
	Registrant         string           `json:"registrant,omitempty"`
	ApplicationMethods []string         `json:"application_methods,omitempty"`
	CompatibleProducts []string         `json:"compatible_products,omitempty"`
	Constituents       []ConstituentRow `json:"active_constituents,omitempty"`
	ModesOfAction      []string         `json:"modes_of_action,omitempty"`
	Documents          []DocRef         `json:"documents,omitempty"`
}

// Product loads a product by registration number. It returns nil, nil when
// no such product exists.
func (s *Store) Product(ctx context.Context, registrationNumber string) (*ProductRow, error) {
	p := &ProductRow{}
	var methods, compatible string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, registration_number, COALESCE(name, ''), COALESCE(formulation_type, ''),
			COALESCE(registrant, ''), application_methods, compatible_products
		FROM products WHERE registration_number = ?`, registrationNumber).Scan(
		&p.ID, &p.RegistrationNumber, &p.Name, &p.FormulationType, &p.Registrant, &methods, &compatible)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading product %s: %w", registrationNumber, err)
	}
	p.ApplicationMethods = decodeSet(methods)
	p.CompatibleProducts = decodeSet(compatible)

	err = s.eachRow(ctx, `
		SELECT a.name, COALESCE(a.chemical_group, ''),
			json_extract(e.props, '$.concentration'), COALESCE(json_extract(e.props, '$.unit'), '')
		FROM edges e JOIN active_constituents a ON a.id = e.dst_id
		WHERE e.rel_type = 'CONTAINS' AND e.src_id = ?
		ORDER BY a.name`, []any{p.ID}, func(rows *sql.Rows) error {
		var c ConstituentRow
		var conc sql.NullFloat64
		if err := rows.Scan(&c.Name, &c.ChemicalGroup, &conc, &c.Unit); err != nil {
			return err
		}
		if conc.Valid {
			c.Concentration = &conc.Float64
		}
		p.Constituents = append(p.Constituents, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading constituents: %w", err)
	}

	modes, err := s.productModes(ctx, []int64{p.ID})
	if err != nil {
		return nil, err
	}
	docs, err := s.productDocuments(ctx, []int64{p.ID})
	if err != nil {
		return nil, err
	}
	p.ModesOfAction = modes[p.ID]
	p.Documents = docs[p.ID]
	return p, nil
}

// DocumentProduct returns the display name of the product labelled by a
// document, falling back to its registration number. It is empty for a
// document no product links to.
func (s *Store) DocumentProduct(ctx context.Context, documentID int64) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(NULLIF(p.name, ''), p.registration_number)
		FROM edges e JOIN products p ON p.id = e.src_id
		WHERE e.rel_type = 'HAS_LABEL' AND e.dst_id = ?
		ORDER BY p.src_rank DESC, p.id LIMIT 1`, documentID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading product for document %d: %w", documentID, err)
	}
	return name, nil
}

func (s *Store) eachRow(ctx context.Context, q string, args []any, fn func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
