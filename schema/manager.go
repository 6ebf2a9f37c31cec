// Package schema declares the graph's constraints and lookup indexes and
// seeds the static reference entities.
package schema

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bbiangul/agrokg/store"
)

// Manager owns schema setup for one store. It has no runtime dependents;
// the loader and indexer rely only on the constraints it leaves behind.
type Manager struct {
	store     *store.Store
	reference ReferenceData
}

// NewManager returns a manager seeding the built-in reference set.
func NewManager(s *store.Store) *Manager {
	return &Manager{store: s, reference: Reference}
}

// WithReference returns a copy of m seeding ref instead of the built-in set.
func (m *Manager) WithReference(ref ReferenceData) *Manager {
	return &Manager{store: m.store, reference: ref}
}

// InitReport describes what Initialize did.
type InitReport struct {
	Objects          int `json:"objects"`
	ReferenceVersion int `json:"reference_version"`
	ReferenceChanged int `json:"reference_changed"`
}

// Initialize creates every constraint and lookup index in one batch and
// seeds reference data. It is idempotent: existing objects with the same
// definition are kept, reference rows are only rewritten when the reference
// version increases, and domain data is never touched. An incompatible
// pre-existing object is fatal and reported by name.
func (m *Manager) Initialize(ctx context.Context) (*InitReport, error) {
	objects := store.SchemaObjects()
	if err := m.store.ApplyObjects(ctx, objects); err != nil {
		slog.Error("schema: applying objects failed", "error", err)
		return nil, err
	}

	current, err := m.store.ReferenceVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading reference version: %w", err)
	}
	if current > m.reference.Version {
		slog.Warn("schema: store carries newer reference data",
			"store_version", current, "seed_version", m.reference.Version)
	}

	changed, err := m.store.SeedReference(ctx, m.reference.Version, m.reference.Jurisdictions, m.reference.ModesOfAction)
	if err != nil {
		return nil, fmt.Errorf("seeding reference data: %w", err)
	}

	slog.Info("schema: initialized",
		"objects", len(objects),
		"reference_version", m.reference.Version,
		"reference_changed", changed)
	return &InitReport{
		Objects:          len(objects),
		ReferenceVersion: m.reference.Version,
		ReferenceChanged: changed,
	}, nil
}

// Reset deletes all nodes and relationships and re-runs Initialize. It is a
// maintenance operation; the ingestion path never calls it.
func (m *Manager) Reset(ctx context.Context) (*InitReport, error) {
	if err := m.store.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clearing graph: %w", err)
	}
	slog.Warn("schema: graph cleared")
	return m.Initialize(ctx)
}

// Statistics returns node counts per label and relationship counts per type.
func (m *Manager) Statistics(ctx context.Context) (*store.Stats, error) {
	return m.store.Stats(ctx)
}

// Summary is a compact overview of graph contents.
type Summary struct {
	Stats    *store.Stats      `json:"stats"`
	TopWeeds []store.NameCount `json:"top_weeds"`
	TopCrops []store.NameCount `json:"top_crops"`
}

// Summary returns statistics plus the weeds and crops with the most
// registered uses.
func (m *Manager) Summary(ctx context.Context, top int) (*Summary, error) {
	if top <= 0 {
		top = 10
	}
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	weeds, err := m.store.TopByUses(ctx, store.LabelWeed, top)
	if err != nil {
		return nil, fmt.Errorf("ranking weeds: %w", err)
	}
	crops, err := m.store.TopByUses(ctx, store.LabelCrop, top)
	if err != nil {
		return nil, fmt.Errorf("ranking crops: %w", err)
	}
	return &Summary{Stats: stats, TopWeeds: weeds, TopCrops: crops}, nil
}
