// Package loader turns extraction records into idempotent graph upserts.
//
// One record is loaded in one store transaction: the Document and Product
// are merged first, then constituents, modes of action and registered uses
// with their crop, weed, rate, timing, restriction and jurisdiction
// neighbours. Every node is merged by natural key and every edge is
// deduplicated by (type, endpoints, discriminator), so loading the same
// record twice leaves the graph unchanged.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/bbiangul/agrokg/extraction"
	"github.com/bbiangul/agrokg/identity"
	"github.com/bbiangul/agrokg/kgerr"
	"github.com/bbiangul/agrokg/schema"
	"github.com/bbiangul/agrokg/store"
)

// txRunner is the slice of *store.Store the loader writes through.
type txRunner interface {
	InTx(ctx context.Context, fn func(*store.Tx) error) error
}

// Options configure retries, batch concurrency and per-record deadlines.
type Options struct {
	MaxRetries     int           // attempts per record on transient errors
	InitialBackoff time.Duration // first retry delay
	MaxBackoff     time.Duration // cap on a single retry delay
	Concurrency    int           // records loaded in parallel by LoadBatch
	RecordTimeout  time.Duration // overall deadline per record, 0 for none
	RunID          string        // extraction run id; generated when empty
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{
		MaxRetries:     5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Concurrency:    4,
		RecordTimeout:  2 * time.Minute,
	}
}

// Loader is the single write path from extraction records to the graph.
type Loader struct {
	store     txRunner
	resolver  *identity.Resolver
	reference schema.ReferenceData
	opts      Options
}

// New returns a Loader writing to s. Reference codes are resolved against
// schema.Reference; the reference rows themselves must already be seeded.
func New(s txRunner, resolver *identity.Resolver, opts Options) *Loader {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 100 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if resolver == nil {
		resolver = identity.New(identity.DefaultAliases(), identity.Options{})
	}
	return &Loader{store: s, resolver: resolver, reference: schema.Reference, opts: opts}
}

// RunID returns the extraction run id stamped on every edge this loader
// writes.
func (l *Loader) RunID() string { return l.opts.RunID }

// LoadRecord validates rec and upserts it. A validation error names the
// offending field and leaves the store untouched. Transient store errors are
// retried with exponential backoff; the returned error is transient only
// once retries are exhausted.
func (l *Loader) LoadRecord(ctx context.Context, rec extraction.Record, doc extraction.DocumentInfo) (*LoadResult, error) {
	if rec == nil {
		return nil, kgerr.Validation(kgerr.CodeRecordValidation, "record", "is empty")
	}
	p := rec.Product()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := l.checkKeys(p); err != nil {
		return nil, err
	}
	doc.SourceID = strings.TrimSpace(doc.SourceID)
	if doc.SourceID == "" {
		return nil, kgerr.Validation(kgerr.CodeRecordValidation, "document.source_id", "is required")
	}
	if err := doc.Validate(); err != nil {
		return nil, kgerr.Validation(kgerr.CodeRecordValidation, "document.effective_date", err.Error())
	}

	if l.opts.RecordTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.RecordTimeout)
		defer cancel()
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = l.opts.InitialBackoff
	eb.MaxInterval = l.opts.MaxBackoff

	attempts := 0
	res, err := backoff.Retry(ctx, func() (*LoadResult, error) {
		attempts++
		var res *LoadResult
		err := l.store.InTx(ctx, func(tx *store.Tx) error {
			var err error
			res, err = l.write(ctx, tx, p, doc)
			return err
		})
		if err == nil {
			return res, nil
		}
		if store.IsTransient(err) {
			slog.Warn("loader: transient store error, retrying",
				"document", doc.SourceID, "attempt", attempts, "error", err)
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(uint(l.opts.MaxRetries)))
	if err != nil {
		if store.IsTransient(err) || ctx.Err() != nil {
			return nil, kgerr.Wrap(err, kgerr.CodeStoreTransient,
				fmt.Sprintf("loading %s failed after %d attempts", doc.SourceID, attempts),
				kgerr.Field("document", doc.SourceID), kgerr.Field("attempts", attempts))
		}
		return nil, err
	}
	res.Attempts = attempts

	for _, w := range res.Warnings {
		slog.Warn("loader: "+w.Kind, "document", doc.SourceID, "detail", w.Message)
	}
	slog.Info("loader: record loaded",
		"document", doc.SourceID,
		"registration_number", res.RegistrationNumber,
		"nodes_created", res.NodeTotals().Created,
		"edges_created", res.RelationshipTotals().Created,
		"warnings", len(res.Warnings))
	return res, nil
}

// checkKeys rejects mentions that are present but canonicalise to an empty
// key, such as a crop of "???". Stored, they would all merge into one
// nameless node.
func (l *Loader) checkKeys(p *extraction.ProductRecord) error {
	r := l.resolver
	empty := func(field string) error {
		return kgerr.Validation(kgerr.CodeRecordValidation, field, "has no usable characters")
	}
	for i, c := range p.Constituents {
		if r.Canonicalize(identity.ActiveConstituent, c.Name) == "" {
			return empty(fmt.Sprintf("active_constituents[%d].name", i))
		}
	}
	for i, u := range p.Uses {
		at := fmt.Sprintf("registered_uses[%d]", i)
		switch {
		case r.Canonicalize(identity.Crop, u.Crop) == "":
			return empty(at + ".crop")
		case r.Canonicalize(identity.Weed, u.Weed) == "":
			return empty(at + ".weed")
		case r.Canonicalize(identity.RateDescriptor, u.Rate.Descriptor) == "":
			return empty(at + ".rate.descriptor")
		}
	}
	return nil
}

// recordWriter carries the per-transaction state of one record load.
type recordWriter struct {
	l      *Loader
	tx     *store.Tx
	res    *LoadResult
	rank   string
	docID  int64
	names  map[string][]string
	jcodes []string
}

func (l *Loader) write(ctx context.Context, tx *store.Tx, p *extraction.ProductRecord, doc extraction.DocumentInfo) (*LoadResult, error) {
	regNo := strings.ToUpper(strings.TrimSpace(p.RegistrationNumber))
	w := &recordWriter{
		l:     l,
		tx:    tx,
		res:   newLoadResult(doc.SourceID, regNo, l.opts.RunID),
		rank:  store.Rank(doc.EffectiveDate, doc.Version),
		names: make(map[string][]string),
	}
	snap := &Snapshot{
		Document:           doc.SourceID,
		EffectiveDate:      doc.EffectiveDate,
		Version:            doc.Version,
		RegistrationNumber: regNo,
		Name:               strings.TrimSpace(p.Name),
		FormulationType:    strings.TrimSpace(p.FormulationType),
		Registrant:         strings.TrimSpace(p.Registrant),
	}
	w.res.Snapshot = snap

	docNode := store.Node{
		Key: []any{doc.SourceID},
		Scalars: map[string]string{
			"effective_date": doc.EffectiveDate,
			"title":          doc.Title,
		},
	}
	if doc.Version > 0 {
		docNode.Scalars["version"] = strconv.Itoa(doc.Version)
	}
	docID, err := w.merge(ctx, store.DocumentSpec, docNode)
	if err != nil {
		return nil, err
	}
	w.docID = docID

	productID, err := w.merge(ctx, store.ProductSpec, store.Node{
		Key: []any{regNo},
		Scalars: map[string]string{
			"name":             snap.Name,
			"formulation_type": snap.FormulationType,
			"registrant":       snap.Registrant,
		},
		Sets: map[string][]string{
			"application_methods": p.ApplicationMethods,
			"compatible_products": p.CompatibleProducts,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := w.insertEdge(ctx, store.RelHasLabel, store.LabelProduct, productID, store.LabelDocument, docID, "", nil); err != nil {
		return nil, err
	}

	for _, c := range p.Constituents {
		name, err := w.constituent(ctx, productID, c)
		if err != nil {
			return nil, err
		}
		snap.Constituents = append(snap.Constituents, name)
	}

	for _, raw := range p.ModesOfAction {
		code := identity.Normalize(identity.ModeOfAction, raw)
		ok, err := w.referenceEdge(ctx, store.RelHasModeOfAction, store.LabelProduct, productID, store.LabelModeOfAction, code)
		if err != nil {
			return nil, err
		}
		if ok {
			snap.ModesOfAction = append(snap.ModesOfAction, code)
		}
	}

	for i, u := range p.Uses {
		us, err := w.use(ctx, productID, u)
		if err != nil {
			return nil, fmt.Errorf("registered_uses[%d]: %w", i, err)
		}
		snap.Uses = append(snap.Uses, us)
	}
	return w.res, nil
}

func (w *recordWriter) constituent(ctx context.Context, productID int64, c extraction.ConstituentRecord) (string, error) {
	name := w.l.resolver.Canonicalize(identity.ActiveConstituent, c.Name)
	id, err := w.mergeNamed(ctx, store.ActiveConstituentSpec, identity.ActiveConstituent, name, store.Node{
		Key:     []any{name},
		Scalars: map[string]string{"chemical_group": strings.TrimSpace(c.ChemicalGroup)},
	})
	if err != nil {
		return "", err
	}
	// Concentration is mutable product data, so CONTAINS merges rather than
	// inserting immutably.
	var props map[string]any
	if c.Concentration != nil {
		props = map[string]any{"concentration": c.Concentration.Value, "unit": strings.TrimSpace(c.Concentration.Unit)}
	}
	o, err := w.tx.MergeEdge(ctx, w.edge(store.RelContains, store.LabelProduct, productID, store.LabelActiveConstituent, id, "", props), w.rank)
	if err != nil {
		return "", err
	}
	w.res.edge(store.RelContains, o)
	return name, nil
}

func (w *recordWriter) use(ctx context.Context, productID int64, u extraction.UseRecord) (UseSnapshot, error) {
	r := w.l.resolver
	crop := r.Canonicalize(identity.Crop, u.Crop)
	weed := r.Canonicalize(identity.Weed, u.Weed)
	descriptor := r.Canonicalize(identity.RateDescriptor, u.Rate.Descriptor)
	us := UseSnapshot{
		Crop:           crop,
		Weed:           weed,
		RateDescriptor: descriptor,
		Efficacy:       u.Efficacy,
		MaxGrowthStage: identity.Normalize(identity.GrowthStage, u.MaxGrowthStage),
	}

	cropID, err := w.mergeNamed(ctx, store.CropSpec, identity.Crop, crop, store.Node{
		Key:     []any{crop},
		Scalars: map[string]string{"crop_class": strings.ToLower(strings.TrimSpace(u.CropClass))},
		Sets:    map[string][]string{"aliases": aliasOf(identity.Crop, u.Crop, crop)},
	})
	if err != nil {
		return us, err
	}
	weedID, err := w.mergeNamed(ctx, store.WeedSpec, identity.Weed, weed, store.Node{
		Key: []any{weed},
		Scalars: map[string]string{
			"scientific_name": strings.TrimSpace(u.WeedScientificName),
			"lifecycle":       strings.ToLower(strings.TrimSpace(u.WeedLifecycle)),
		},
		Sets: map[string][]string{"aliases": aliasOf(identity.Weed, u.Weed, weed)},
	})
	if err != nil {
		return us, err
	}

	// The use is merged only after its product, crop and weed exist in this
	// transaction.
	useID, err := w.merge(ctx, store.RegisteredUseSpec, store.Node{
		Key: []any{productID, cropID, weedID, descriptor},
		Scalars: map[string]string{
			"rate_text": strings.TrimSpace(u.Rate.Descriptor),
			"comments":  strings.TrimSpace(u.Comments),
		},
	})
	if err != nil {
		return us, err
	}

	if err := w.insertEdge(ctx, store.RelHasUse, store.LabelProduct, productID, store.LabelRegisteredUse, useID, "", nil); err != nil {
		return us, err
	}
	if err := w.insertEdge(ctx, store.RelForCrop, store.LabelRegisteredUse, useID, store.LabelCrop, cropID, "", nil); err != nil {
		return us, err
	}
	controls := map[string]any{}
	if us.Efficacy != "" {
		controls["efficacy"] = us.Efficacy
	}
	if us.MaxGrowthStage != "" {
		controls["max_growth_stage"] = us.MaxGrowthStage
	}
	if err := w.insertEdge(ctx, store.RelControls, store.LabelRegisteredUse, useID, store.LabelWeed, weedID,
		us.Efficacy+"|"+us.MaxGrowthStage, controls); err != nil {
		return us, err
	}

	if err := w.rate(ctx, useID, descriptor, u.Rate); err != nil {
		return us, err
	}

	for _, raw := range u.Timing {
		code := r.Canonicalize(identity.GrowthStage, raw)
		if code == "" {
			continue
		}
		stageID, err := w.merge(ctx, store.GrowthStageSpec, store.Node{
			Key: []any{code},
			Scalars: map[string]string{
				"description": strings.TrimSpace(raw),
				"ordinal":     stageOrdinal(code),
			},
		})
		if err != nil {
			return us, err
		}
		if err := w.insertEdge(ctx, store.RelAtTiming, store.LabelRegisteredUse, useID, store.LabelGrowthStage, stageID, "", nil); err != nil {
			return us, err
		}
		us.Timings = append(us.Timings, code)
	}

	for _, rr := range u.Restrictions {
		restrictionID, err := w.merge(ctx, store.RestrictionSpec, store.Node{
			Key: []any{useID, rr.Type},
			Scalars: map[string]string{
				"value": strings.TrimSpace(rr.Value),
				"unit":  strings.TrimSpace(rr.Unit),
			},
		})
		if err != nil {
			return us, err
		}
		if err := w.insertEdge(ctx, store.RelWithRestriction, store.LabelRegisteredUse, useID, store.LabelRestriction, restrictionID, "", nil); err != nil {
			return us, err
		}
	}

	codes, err := w.jurisdictionCodes(ctx, u.Jurisdictions)
	if err != nil {
		return us, err
	}
	for _, code := range codes {
		ok, err := w.referenceEdge(ctx, store.RelRegisteredIn, store.LabelRegisteredUse, useID, store.LabelJurisdiction, code)
		if err != nil {
			return us, err
		}
		if ok {
			us.Jurisdictions = append(us.Jurisdictions, code)
		}
	}
	return us, nil
}

// rate writes the ApplicationRate node. Without a numeric value the
// descriptor itself stands in as the rate value.
func (w *recordWriter) rate(ctx context.Context, useID int64, descriptor string, rr extraction.RateRecord) error {
	valueText, amount := descriptor, ""
	if rr.Value != nil {
		amount = strconv.FormatFloat(*rr.Value, 'f', -1, 64)
		valueText = amount
	}
	unit := identity.Normalize(identity.RateDescriptor, rr.Unit)
	method := strings.ToLower(strings.TrimSpace(rr.Method))
	rateID, err := w.merge(ctx, store.ApplicationRateSpec, store.Node{
		Key:     []any{useID, valueText, unit, method},
		Scalars: map[string]string{"amount": amount},
	})
	if err != nil {
		return err
	}
	return w.insertEdge(ctx, store.RelHasRate, store.LabelRegisteredUse, useID, store.LabelApplicationRate, rateID, "", nil)
}

// jurisdictionCodes maps raw jurisdiction mentions to codes, expanding ALL
// to every seeded jurisdiction. Unknown mentions pass through upper-cased
// so referenceEdge can warn about them.
func (w *recordWriter) jurisdictionCodes(ctx context.Context, raw []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(code string) {
		if !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	for _, r := range raw {
		if strings.EqualFold(strings.TrimSpace(r), schema.AllJurisdictions) {
			if w.jcodes == nil {
				codes, err := w.tx.Codes(ctx, store.LabelJurisdiction)
				if err != nil {
					return nil, err
				}
				w.jcodes = codes
			}
			for _, c := range w.jcodes {
				add(c)
			}
			continue
		}
		code, _ := w.l.reference.JurisdictionCode(r)
		if code != "" {
			add(code)
		}
	}
	return out, nil
}

// referenceEdge links to a seeded reference node. An unknown code is a
// warning and the edge is skipped; reference nodes are never created here.
func (w *recordWriter) referenceEdge(ctx context.Context, rel, srcKind string, srcID int64, label, code string) (bool, error) {
	id, ok, err := w.tx.LookupCode(ctx, label, code)
	if err != nil {
		return false, err
	}
	if !ok {
		w.res.skipEdge(rel)
		w.res.Warnings = append(w.res.Warnings, Warning{
			Kind:    WarnUnknownReference,
			Message: fmt.Sprintf("%s %q is not in the reference data; %s edge skipped", label, code, rel),
		})
		return false, nil
	}
	return true, w.insertEdge(ctx, rel, srcKind, srcID, label, id, "", nil)
}

func (w *recordWriter) merge(ctx context.Context, spec store.NodeSpec, n store.Node) (int64, error) {
	mr, err := w.tx.MergeNode(ctx, spec, n, w.rank)
	if err != nil {
		return 0, err
	}
	w.res.node(spec.Label, mr.Outcome)
	for _, c := range mr.Conflicts {
		w.res.Warnings = append(w.res.Warnings, conflictWarning(c))
	}
	return mr.ID, nil
}

// mergeNamed merges a node keyed by canonical name. When the name is new to
// the store, it is compared against existing names of the same kind and
// near-duplicates are flagged, never merged.
func (w *recordWriter) mergeNamed(ctx context.Context, spec store.NodeSpec, kind identity.Kind, name string, n store.Node) (int64, error) {
	existing, ok := w.names[spec.Table]
	if !ok {
		var err error
		existing, err = w.tx.Names(ctx, spec)
		if err != nil {
			return 0, err
		}
		w.names[spec.Table] = existing
	}
	mr, err := w.tx.MergeNode(ctx, spec, n, w.rank)
	if err != nil {
		return 0, err
	}
	w.res.node(spec.Label, mr.Outcome)
	for _, c := range mr.Conflicts {
		w.res.Warnings = append(w.res.Warnings, conflictWarning(c))
	}
	if mr.Outcome == store.Created {
		for _, other := range existing {
			if rep, dup := w.l.resolver.Compare(kind, name, other); dup {
				w.res.Warnings = append(w.res.Warnings, duplicateWarning(rep))
			}
		}
		w.names[spec.Table] = append(existing, name)
	}
	return mr.ID, nil
}

func (w *recordWriter) edge(rel, srcKind string, srcID int64, dstKind string, dstID int64, disc string, props map[string]any) store.Edge {
	return store.Edge{
		Rel:           rel,
		SrcKind:       srcKind,
		SrcID:         srcID,
		DstKind:       dstKind,
		DstID:         dstID,
		Discriminator: disc,
		Props:         props,
		DocumentID:    w.docID,
		RunID:         w.l.opts.RunID,
	}
}

func (w *recordWriter) insertEdge(ctx context.Context, rel, srcKind string, srcID int64, dstKind string, dstID int64, disc string, props map[string]any) error {
	o, err := w.tx.InsertEdge(ctx, w.edge(rel, srcKind, srcID, dstKind, dstID, disc, props), w.rank)
	if err != nil {
		return err
	}
	w.res.edge(rel, o)
	return nil
}

// aliasOf returns the normalised raw mention when it differs from the
// canonical key, so entity linking can match the spelling seen in text.
func aliasOf(kind identity.Kind, raw, canonical string) []string {
	n := identity.Normalize(kind, raw)
	if n == "" || n == canonical {
		return nil
	}
	return []string{n}
}

var zadoks = regexp.MustCompile(`^(?:z|gs|zadoks)\s*-?\s*(\d{1,2})$`)

// stageOrdinal orders Zadoks decimal codes ("z31", "gs 31"). Free-text stages
// have no ordinal.
func stageOrdinal(code string) string {
	if m := zadoks.FindStringSubmatch(code); m != nil {
		n, _ := strconv.Atoi(m[1])
		return strconv.Itoa(n)
	}
	return ""
}
