package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Node labels, used as edge endpoint kinds and in statistics.
const (
	LabelProduct           = "Product"
	LabelActiveConstituent = "ActiveConstituent"
	LabelModeOfAction      = "ModeOfAction"
	LabelRegisteredUse     = "RegisteredUse"
	LabelCrop              = "Crop"
	LabelWeed              = "Weed"
	LabelJurisdiction      = "Jurisdiction"
	LabelGrowthStage       = "GrowthStage"
	LabelApplicationRate   = "ApplicationRate"
	LabelRestriction       = "Restriction"
	LabelDocument          = "Document"
	LabelChunk             = "Chunk"
)

// Relationship types.
const (
	RelContains        = "CONTAINS"
	RelHasModeOfAction = "HAS_MODE_OF_ACTION"
	RelHasUse          = "HAS_USE"
	RelForCrop         = "FOR_CROP"
	RelControls        = "CONTROLS"
	RelAtTiming        = "AT_TIMING"
	RelHasRate         = "HAS_RATE"
	RelWithRestriction = "WITH_RESTRICTION"
	RelRegisteredIn    = "REGISTERED_IN"
	RelHasLabel        = "HAS_LABEL"
	RelHasChunk        = "HAS_CHUNK"
	RelNext            = "NEXT"
	RelMentions        = "MENTIONS"
)

// RelationshipTypes lists every relationship type in a stable order.
var RelationshipTypes = []string{
	RelContains, RelHasModeOfAction, RelHasUse, RelForCrop, RelControls, RelAtTiming,
	RelHasRate, RelWithRestriction, RelRegisteredIn, RelHasLabel, RelHasChunk, RelNext, RelMentions,
}

// NodeSpec describes a mergeable node table: its natural-key columns, the
// scalar columns merged last-write-wins, and the JSON array columns merged
// by union.
type NodeSpec struct {
	Label   string
	Table   string
	Keys    []string
	Scalars []string
	Sets    []string
}

var (
	DocumentSpec          = NodeSpec{LabelDocument, "documents", []string{"source_id"}, []string{"version", "effective_date", "title"}, nil}
	ProductSpec           = NodeSpec{LabelProduct, "products", []string{"registration_number"}, []string{"name", "formulation_type", "registrant"}, []string{"application_methods", "compatible_products"}}
	ActiveConstituentSpec = NodeSpec{LabelActiveConstituent, "active_constituents", []string{"name"}, []string{"chemical_group"}, nil}
	CropSpec              = NodeSpec{LabelCrop, "crops", []string{"name"}, []string{"crop_class"}, []string{"aliases"}}
	WeedSpec              = NodeSpec{LabelWeed, "weeds", []string{"name"}, []string{"scientific_name", "lifecycle"}, []string{"aliases"}}
	GrowthStageSpec       = NodeSpec{LabelGrowthStage, "growth_stages", []string{"code"}, []string{"description", "ordinal"}, nil}
	RegisteredUseSpec     = NodeSpec{LabelRegisteredUse, "registered_uses", []string{"product_id", "crop_id", "weed_id", "rate_descriptor"}, []string{"rate_text", "comments"}, nil}
	ApplicationRateSpec   = NodeSpec{LabelApplicationRate, "application_rates", []string{"use_id", "value_text", "unit", "method"}, []string{"amount"}, nil}
	RestrictionSpec       = NodeSpec{LabelRestriction, "restrictions", []string{"use_id", "restriction_type"}, []string{"value", "unit"}, nil}
)

// nodeTables maps every node label to its table, reference tables included.
var nodeTables = []struct{ label, table string }{
	{LabelProduct, "products"},
	{LabelActiveConstituent, "active_constituents"},
	{LabelModeOfAction, "modes_of_action"},
	{LabelRegisteredUse, "registered_uses"},
	{LabelCrop, "crops"},
	{LabelWeed, "weeds"},
	{LabelJurisdiction, "jurisdictions"},
	{LabelGrowthStage, "growth_stages"},
	{LabelApplicationRate, "application_rates"},
	{LabelRestriction, "restrictions"},
	{LabelDocument, "documents"},
	{LabelChunk, "chunks"},
}

// Node is one node to merge. Key values follow NodeSpec.Keys order. Empty
// scalars mean unknown and never overwrite a stored value.
type Node struct {
	Key     []any
	Scalars map[string]string
	Sets    map[string][]string
}

// Outcome of a merge.
type Outcome int

const (
	Unchanged Outcome = iota
	Created
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Conflict records a scalar that two documents disagree on. Kept is the
// value left in the store.
type Conflict struct {
	Label     string `json:"label"`
	Key       string `json:"key"`
	Field     string `json:"field"`
	Kept      string `json:"kept"`
	Discarded string `json:"discarded"`
}

// MergeResult is the outcome of MergeNode.
type MergeResult struct {
	ID        int64
	Outcome   Outcome
	Conflicts []Conflict
}

// Rank orders source documents: later effective date wins, then higher
// version. Ranks compare lexically.
func Rank(effectiveDate string, version int) string {
	if effectiveDate == "" {
		effectiveDate = "0000-00-00"
	}
	return fmt.Sprintf("%s#%06d", effectiveDate, version)
}

// Tx is a write transaction over the graph.
type Tx struct {
	tx *sql.Tx
}

// MergeNode creates the node if its natural key is absent, otherwise merges
// properties into the stored row. Scalars follow last-write-wins by rank;
// a value from an older document only fills a gap. Sets are unioned.
func (t *Tx) MergeNode(ctx context.Context, spec NodeSpec, n Node, rank string) (MergeResult, error) {
	if len(n.Key) != len(spec.Keys) {
		return MergeResult{}, fmt.Errorf("%s: want %d key values, got %d", spec.Label, len(spec.Keys), len(n.Key))
	}
	cols := append(slices.Clone(spec.Scalars), spec.Sets...)

	var (
		id      int64
		oldRank string
		old     = make([]string, len(cols))
	)
	dest := []any{&id, &oldRank}
	for i := range old {
		dest = append(dest, &old[i])
	}
	selectCols := make([]string, len(cols))
	for i, c := range cols {
		selectCols[i] = fmt.Sprintf(", COALESCE(%s, '')", c)
	}
	q := fmt.Sprintf("SELECT id, src_rank%s FROM %s WHERE %s",
		strings.Join(selectCols, ""), spec.Table, keyWhere(spec.Keys))
	err := t.tx.QueryRowContext(ctx, q, n.Key...).Scan(dest...)

	switch {
	case err == sql.ErrNoRows:
		vals := make([]string, len(cols))
		for i, c := range spec.Scalars {
			vals[i] = strings.TrimSpace(n.Scalars[c])
		}
		for i, c := range spec.Sets {
			vals[len(spec.Scalars)+i] = encodeSet(unionSet(nil, n.Sets[c]))
		}
		id, err := t.upsertNode(ctx, spec, n.Key, cols, vals, rank)
		return MergeResult{ID: id, Outcome: Created}, err
	case err != nil:
		return MergeResult{}, fmt.Errorf("reading %s: %w", spec.Label, err)
	}

	res := MergeResult{ID: id, Outcome: Unchanged}
	newer := rank >= oldRank
	merged := slices.Clone(old)
	keyText := fmt.Sprint(n.Key...)

	for i, c := range spec.Scalars {
		incoming := strings.TrimSpace(n.Scalars[c])
		switch {
		case incoming == "" || incoming == old[i]:
		case old[i] == "":
			merged[i] = incoming
		case newer:
			merged[i] = incoming
			res.Conflicts = append(res.Conflicts, Conflict{spec.Label, keyText, c, incoming, old[i]})
		default:
			res.Conflicts = append(res.Conflicts, Conflict{spec.Label, keyText, c, old[i], incoming})
		}
	}
	for i, c := range spec.Sets {
		j := len(spec.Scalars) + i
		merged[j] = encodeSet(unionSet(decodeSet(old[j]), n.Sets[c]))
	}

	newRank := max(rank, oldRank)
	if !slices.Equal(merged, old) {
		res.Outcome = Updated
	}
	if res.Outcome == Unchanged && newRank == oldRank {
		return res, nil
	}
	if _, err := t.upsertNode(ctx, spec, n.Key, cols, merged, newRank); err != nil {
		return MergeResult{}, err
	}
	return res, nil
}

// upsertNode writes the full row through the natural-key unique index.
func (t *Tx) upsertNode(ctx context.Context, spec NodeSpec, key []any, cols, vals []string, rank string) (int64, error) {
	all := append(slices.Clone(spec.Keys), cols...)
	all = append(all, "src_rank")

	args := append([]any{}, key...)
	for i, v := range vals {
		if v == "" && i < len(spec.Scalars) {
			args = append(args, nil)
			continue
		}
		args = append(args, v)
	}
	args = append(args, rank)

	sets := make([]string, 0, len(cols)+2)
	for _, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	sets = append(sets, "src_rank = excluded.src_rank", "updated_at = CURRENT_TIMESTAMP")

	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT(%s) DO UPDATE SET %s
		RETURNING id`,
		spec.Table, strings.Join(all, ", "), placeholders(len(all)),
		strings.Join(spec.Keys, ", "), strings.Join(sets, ", "))

	var id int64
	if err := t.tx.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("upserting %s: %w", spec.Label, err)
	}
	return id, nil
}

// LookupCode resolves a reference node (jurisdiction or mode of action) by
// code. Reference nodes are never created here.
func (t *Tx) LookupCode(ctx context.Context, label, code string) (int64, bool, error) {
	table, err := referenceTable(label)
	if err != nil {
		return 0, false, err
	}
	var id int64
	err = t.tx.QueryRowContext(ctx, "SELECT id FROM "+table+" WHERE code = ?", code).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("looking up %s %s: %w", label, code, err)
	}
	return id, true, nil
}

// Codes lists every code of a reference label.
func (t *Tx) Codes(ctx context.Context, label string) ([]string, error) {
	table, err := referenceTable(label)
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(ctx, "SELECT code FROM "+table+" ORDER BY code")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// Names returns every stored natural-key name for a label with a single
// text key (weeds, crops, constituents).
func (t *Tx) Names(ctx context.Context, spec NodeSpec) ([]string, error) {
	if len(spec.Keys) != 1 {
		return nil, fmt.Errorf("%s has a composite key", spec.Label)
	}
	rows, err := t.tx.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY 1", spec.Keys[0], spec.Table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func referenceTable(label string) (string, error) {
	switch label {
	case LabelJurisdiction:
		return "jurisdictions", nil
	case LabelModeOfAction:
		return "modes_of_action", nil
	}
	return "", fmt.Errorf("%s is not a reference label", label)
}

// ---------------------------------------------------------------------------
// Edges
// ---------------------------------------------------------------------------

// Edge is one typed relationship. Discriminator carries the properties that
// make parallel edges between the same two nodes distinct.
type Edge struct {
	Rel           string
	SrcKind       string
	SrcID         int64
	DstKind       string
	DstID         int64
	Discriminator string
	Props         map[string]any
	DocumentID    int64
	RunID         string
}

// InsertEdge writes an immutable edge. An edge with the same endpoints, type
// and discriminator is left untouched and reported Unchanged.
func (t *Tx) InsertEdge(ctx context.Context, e Edge, rank string) (Outcome, error) {
	props, err := encodeProps(e.Props)
	if err != nil {
		return Unchanged, err
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO edges (rel_type, src_kind, src_id, dst_kind, dst_id, discriminator, props, src_rank, source_document_id, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rel_type, src_kind, src_id, dst_kind, dst_id, discriminator) DO NOTHING
	`, e.Rel, e.SrcKind, e.SrcID, e.DstKind, e.DstID, e.Discriminator, props, rank, nullID(e.DocumentID), nullString(e.RunID))
	if err != nil {
		return Unchanged, fmt.Errorf("inserting %s edge: %w", e.Rel, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Unchanged, err
	}
	if n == 0 {
		return Unchanged, nil
	}
	return Created, nil
}

// MergeEdge writes an edge whose properties may change over time. Properties
// from an older document never replace those from a newer one.
func (t *Tx) MergeEdge(ctx context.Context, e Edge, rank string) (Outcome, error) {
	props, err := encodeProps(e.Props)
	if err != nil {
		return Unchanged, err
	}
	var (
		oldProps, oldRank string
	)
	err = t.tx.QueryRowContext(ctx, `
		SELECT props, src_rank FROM edges
		WHERE rel_type = ? AND src_kind = ? AND src_id = ? AND dst_kind = ? AND dst_id = ? AND discriminator = ?
	`, e.Rel, e.SrcKind, e.SrcID, e.DstKind, e.DstID, e.Discriminator).Scan(&oldProps, &oldRank)
	if err == sql.ErrNoRows {
		return t.InsertEdge(ctx, e, rank)
	}
	if err != nil {
		return Unchanged, fmt.Errorf("reading %s edge: %w", e.Rel, err)
	}
	if oldProps == props || rank < oldRank {
		return Unchanged, nil
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO edges (rel_type, src_kind, src_id, dst_kind, dst_id, discriminator, props, src_rank, source_document_id, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rel_type, src_kind, src_id, dst_kind, dst_id, discriminator) DO UPDATE SET
			props = excluded.props,
			src_rank = excluded.src_rank,
			source_document_id = excluded.source_document_id,
			run_id = excluded.run_id
	`, e.Rel, e.SrcKind, e.SrcID, e.DstKind, e.DstID, e.Discriminator, props, rank, nullID(e.DocumentID), nullString(e.RunID))
	if err != nil {
		return Unchanged, fmt.Errorf("updating %s edge: %w", e.Rel, err)
	}
	return Updated, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func keyWhere(keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + " = ?"
	}
	return strings.Join(parts, " AND ")
}

func unionSet(base, add []string) []string {
	out := slices.Clone(base)
	for _, v := range add {
		v = strings.TrimSpace(v)
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}

func encodeSet(vals []string) string {
	if len(vals) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(vals)
	return string(b)
}

func decodeSet(raw string) []string {
	var vals []string
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &vals); err != nil {
		return nil
	}
	return vals
}

// encodeProps serialises edge properties with sorted keys so equal property
// sets always produce equal text.
func encodeProps(props map[string]any) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encoding edge props: %w", err)
	}
	return string(b), nil
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
