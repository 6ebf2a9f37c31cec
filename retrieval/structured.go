package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/bbiangul/agrokg/identity"
	"github.com/bbiangul/agrokg/store"
)

// Filters are the parameters of a structured query. Values are raw text and
// are canonicalised before matching. At least one filter is required.
type Filters struct {
	Weed               string `json:"weed,omitempty" yaml:"weed,omitempty"`
	Crop               string `json:"crop,omitempty" yaml:"crop,omitempty"`
	RegistrationNumber string `json:"registration_number,omitempty" yaml:"registration_number,omitempty"`
	Jurisdiction       string `json:"jurisdiction,omitempty" yaml:"jurisdiction,omitempty"`
	ModeOfAction       string `json:"mode_of_action,omitempty" yaml:"mode_of_action,omitempty"`
	Limit              int    `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// UseResult is one registered use with its full attached context.
type UseResult struct {
	store.UseRow
	store.UseContext
}

// StructuredQuery returns the registered uses matching every filter,
// ordered by product name then rate. No match is an empty result.
func (e *Engine) StructuredQuery(ctx context.Context, f Filters) ([]UseResult, error) {
	uf, err := e.useFilter(f)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.FindUses(ctx, uf)
	if err != nil {
		return nil, err
	}
	return e.attach(ctx, rows)
}

func (e *Engine) useFilter(f Filters) (store.UseFilter, error) {
	var uf store.UseFilter
	if strings.TrimSpace(f.Weed+f.Crop+f.RegistrationNumber+f.Jurisdiction+f.ModeOfAction) == "" {
		return uf, invalidQuery("filters", "at least one of weed, crop, registration_number, jurisdiction or mode_of_action is required")
	}
	if f.Limit < 0 || f.Limit > maxStructuredLimit {
		return uf, invalidQuery("limit", fmt.Sprintf("must be between 0 and %d", maxStructuredLimit))
	}
	uf.Limit = f.Limit

	var err error
	if uf.Weed, err = e.canonicalName(identity.Weed, "weed", f.Weed); err != nil {
		return uf, err
	}
	if uf.Crop, err = e.canonicalName(identity.Crop, "crop", f.Crop); err != nil {
		return uf, err
	}
	uf.RegistrationNumber = strings.ToUpper(strings.TrimSpace(f.RegistrationNumber))

	if raw := strings.TrimSpace(f.Jurisdiction); raw != "" {
		code, ok := e.reference.JurisdictionCode(raw)
		if !ok {
			return uf, invalidQuery("jurisdiction", fmt.Sprintf("unknown jurisdiction %q", raw))
		}
		uf.Jurisdiction = code
	}
	if uf.ModeOfAction, err = e.modeCode("mode_of_action", f.ModeOfAction); err != nil {
		return uf, err
	}
	return uf, nil
}

func (e *Engine) canonicalName(kind identity.Kind, field, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	key := e.resolver.Canonicalize(kind, raw)
	if key == "" {
		return "", invalidQuery(field, "has no letters or digits")
	}
	return key, nil
}

func (e *Engine) modeCode(field, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	code := identity.Normalize(identity.ModeOfAction, raw)
	if !e.reference.ModeCode(code) {
		return "", invalidQuery(field, fmt.Sprintf("unknown mode of action group %q", raw))
	}
	return code, nil
}

// attach loads the structured context of each use, preserving row order.
func (e *Engine) attach(ctx context.Context, rows []store.UseRow) ([]UseResult, error) {
	if len(rows) == 0 {
		return []UseResult{}, nil
	}
	contexts, err := e.store.UseContexts(ctx, rows)
	if err != nil {
		return nil, err
	}
	out := make([]UseResult, len(rows))
	for i, r := range rows {
		out[i] = UseResult{UseRow: r}
		if c := contexts[r.UseID]; c != nil {
			out[i].UseContext = *c
		}
	}
	return out, nil
}

// RotationOptions returns uses registered against weed (and crop, when
// given) whose product has no mode of action in currentGroup. Used to pick
// a product from a different resistance group.
func (e *Engine) RotationOptions(ctx context.Context, weed, crop, currentGroup string) ([]UseResult, error) {
	if strings.TrimSpace(weed) == "" {
		return nil, invalidQuery("weed", "is required")
	}
	if strings.TrimSpace(currentGroup) == "" {
		return nil, invalidQuery("current_group", "is required")
	}
	group, err := e.modeCode("current_group", currentGroup)
	if err != nil {
		return nil, err
	}
	uf := store.UseFilter{ExcludeModes: []string{group}}
	if uf.Weed, err = e.canonicalName(identity.Weed, "weed", weed); err != nil {
		return nil, err
	}
	if uf.Crop, err = e.canonicalName(identity.Crop, "crop", crop); err != nil {
		return nil, err
	}
	rows, err := e.store.FindUses(ctx, uf)
	if err != nil {
		return nil, err
	}
	return e.attach(ctx, rows)
}

// ProductDetails is a product with its constituents, modes of action and
// every registered use.
type ProductDetails struct {
	store.ProductRow
	Uses []UseResult `json:"uses"`
}

// ProductDetails returns nil, nil when no product has the registration
// number.
func (e *Engine) ProductDetails(ctx context.Context, registrationNumber string) (*ProductDetails, error) {
	reg := strings.ToUpper(strings.TrimSpace(registrationNumber))
	if reg == "" {
		return nil, invalidQuery("registration_number", "is required")
	}
	p, err := e.store.Product(ctx, reg)
	if err != nil || p == nil {
		return nil, err
	}
	rows, err := e.store.FindUses(ctx, store.UseFilter{RegistrationNumber: reg})
	if err != nil {
		return nil, err
	}
	uses, err := e.attach(ctx, rows)
	if err != nil {
		return nil, err
	}
	return &ProductDetails{ProductRow: *p, Uses: uses}, nil
}

// SearchEntities finds weeds or crops whose name or alias contains term.
// At most 20 rows are returned.
func (e *Engine) SearchEntities(ctx context.Context, kind, term string) ([]store.NamedEntity, error) {
	var label string
	var ik identity.Kind
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "weed", "weeds":
		label, ik = store.LabelWeed, identity.Weed
	case "crop", "crops":
		label, ik = store.LabelCrop, identity.Crop
	default:
		return nil, invalidQuery("kind", fmt.Sprintf("must be weed or crop, got %q", kind))
	}
	needle := identity.Normalize(ik, term)
	if needle == "" {
		return nil, invalidQuery("term", "is required")
	}
	out, err := e.store.SearchNames(ctx, label, needle, maxSearchResults)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []store.NamedEntity{}
	}
	return out, nil
}
