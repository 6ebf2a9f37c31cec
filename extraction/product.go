package extraction

import (
	"fmt"
	"strings"

	"github.com/bbiangul/agrokg/kgerr"
)

// Efficacy levels for a CONTROLS claim.
const (
	EfficacyControl     = "control"
	EfficacySuppression = "suppression"
	EfficacyPartial     = "partial"
)

// Restriction types.
const (
	RestrictionWithholding = "withholding"
	RestrictionRecropping  = "re-cropping"
	RestrictionBufferZone  = "buffer-zone"
	RestrictionOther       = "other"
)

// ProductRecord is the RegisteredUse-centric record: one product with its
// nested constituents and uses. Empty strings and nil pointers mean unknown.
type ProductRecord struct {
	RegistrationNumber string              `json:"registration_number"`
	Name               string              `json:"name,omitempty"`
	FormulationType    string              `json:"formulation_type,omitempty"`
	Registrant         string              `json:"registrant,omitempty"`
	ModesOfAction      []string            `json:"modes_of_action,omitempty"`
	ApplicationMethods []string            `json:"application_methods,omitempty"`
	CompatibleProducts []string            `json:"compatible_products,omitempty"`
	Constituents       []ConstituentRecord `json:"active_constituents,omitempty"`
	Uses               []UseRecord         `json:"registered_uses,omitempty"`
}

// ConstituentRecord is one active constituent of a product.
type ConstituentRecord struct {
	Name          string    `json:"name"`
	ChemicalGroup string    `json:"chemical_group,omitempty"`
	Concentration *Quantity `json:"concentration,omitempty"`
}

// Quantity is a value with its unit.
type Quantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// UseRecord is one registered use: a crop, a weed and a rate.
type UseRecord struct {
	Crop               string              `json:"crop"`
	CropClass          string              `json:"crop_class,omitempty"`
	Weed               string              `json:"weed"`
	WeedScientificName string              `json:"weed_scientific_name,omitempty"`
	WeedLifecycle      string              `json:"weed_lifecycle,omitempty"`
	Rate               RateRecord          `json:"rate"`
	Timing             []string            `json:"timing,omitempty"`
	Efficacy           string              `json:"efficacy,omitempty"`
	MaxGrowthStage     string              `json:"max_growth_stage,omitempty"`
	Jurisdictions      []string            `json:"jurisdictions,omitempty"`
	Restrictions       []RestrictionRecord `json:"restrictions,omitempty"`
	Comments           string              `json:"comments,omitempty"`
}

// RateRecord is the application rate. Descriptor is the free-text rate as
// printed on the label and is part of the RegisteredUse key.
type RateRecord struct {
	Descriptor string   `json:"descriptor"`
	Value      *float64 `json:"value,omitempty"`
	Unit       string   `json:"unit,omitempty"`
	Method     string   `json:"method,omitempty"`
}

// RestrictionRecord is a withholding, re-cropping or buffer-zone rule.
type RestrictionRecord struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
	Unit  string `json:"unit,omitempty"`
}

func (p *ProductRecord) Kind() Kind              { return KindProduct }
func (p *ProductRecord) Product() *ProductRecord { return p }
func (p *ProductRecord) isRecord()               {}

// Validate checks every natural-key field and enumerated value. The returned
// error is a validation error naming the first offending field.
func (p *ProductRecord) Validate() error {
	if p == nil {
		return invalid("record", "is empty")
	}
	if strings.TrimSpace(p.RegistrationNumber) == "" {
		return invalid("registration_number", "is required")
	}
	for i, c := range p.Constituents {
		if strings.TrimSpace(c.Name) == "" {
			return invalid(fmt.Sprintf("active_constituents[%d].name", i), "is required")
		}
	}
	for i, m := range p.ModesOfAction {
		if strings.TrimSpace(m) == "" {
			return invalid(fmt.Sprintf("modes_of_action[%d]", i), "is empty")
		}
	}
	for i, u := range p.Uses {
		at := fmt.Sprintf("registered_uses[%d]", i)
		if strings.TrimSpace(u.Crop) == "" {
			return invalid(at+".crop", "is required")
		}
		if strings.TrimSpace(u.Weed) == "" {
			return invalid(at+".weed", "is required")
		}
		if strings.TrimSpace(u.Rate.Descriptor) == "" {
			return invalid(at+".rate.descriptor", "is required")
		}
		switch u.Efficacy {
		case "", EfficacyControl, EfficacySuppression, EfficacyPartial:
		default:
			return invalid(at+".efficacy", fmt.Sprintf("unknown level %q", u.Efficacy))
		}
		for j, r := range u.Restrictions {
			switch r.Type {
			case RestrictionWithholding, RestrictionRecropping, RestrictionBufferZone, RestrictionOther:
			case "":
				return invalid(fmt.Sprintf("%s.restrictions[%d].type", at, j), "is required")
			default:
				return invalid(fmt.Sprintf("%s.restrictions[%d].type", at, j), fmt.Sprintf("unknown type %q", r.Type))
			}
		}
	}
	return nil
}

func invalid(field, msg string) error {
	return kgerr.Validation(kgerr.CodeRecordValidation, field, msg)
}
