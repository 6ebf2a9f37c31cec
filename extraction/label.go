package extraction

import (
	"regexp"
	"strconv"
	"strings"
)

// LabelRecord is the flat per-label shape: one row per weed/crop entry of the
// label's directions-for-use table.
type LabelRecord struct {
	ProductNumber      string       `json:"product_number"`
	ProductName        string       `json:"product_name"`
	ActiveConstituent  string       `json:"active_constituent"`
	ChemicalGroup      string       `json:"chemical_group,omitempty"`
	ModeOfActionGroup  string       `json:"mode_of_action_group"`
	RegisteredCrops    []string     `json:"registered_crops,omitempty"`
	RegisteredWeeds    []string     `json:"registered_weeds,omitempty"`
	WeedControlEntries []LabelEntry `json:"weed_control_entries,omitempty"`
	ApplicationMethods []string     `json:"application_methods,omitempty"`
	StateRestrictions  []string     `json:"state_restrictions,omitempty"`
	WithholdingPeriod  string       `json:"withholding_period,omitempty"`
	CompatibleProducts []string     `json:"compatible_products,omitempty"`
}

// LabelEntry is one row of the directions-for-use table.
type LabelEntry struct {
	Crop               string   `json:"crop"`
	ApplicationTiming  string   `json:"application_timing,omitempty"`
	WeedCommonName     string   `json:"weed_common_name"`
	WeedScientificName string   `json:"weed_scientific_name,omitempty"`
	States             []string `json:"states,omitempty"`
	RatePerHa          string   `json:"rate_per_ha"`
	CriticalComments   string   `json:"critical_comments,omitempty"`
	ControlLevel       string   `json:"control_level,omitempty"`
}

func (l *LabelRecord) Kind() Kind { return KindLabel }
func (l *LabelRecord) isRecord()  {}

// Product converts the flat label into the RegisteredUse-centric shape.
// Rates without a per-area unit are read as per hectare and the label's
// withholding period becomes a restriction on every use.
func (l *LabelRecord) Product() *ProductRecord {
	p := &ProductRecord{
		RegistrationNumber: strings.TrimSpace(l.ProductNumber),
		Name:               strings.TrimSpace(l.ProductName),
		ApplicationMethods: l.ApplicationMethods,
		CompatibleProducts: l.CompatibleProducts,
		Constituents:       ParseConstituents(l.ActiveConstituent, l.ChemicalGroup),
	}
	if g := strings.TrimSpace(l.ModeOfActionGroup); g != "" {
		p.ModesOfAction = []string{g}
	}

	for _, e := range l.WeedControlEntries {
		u := UseRecord{
			Crop:               e.Crop,
			Weed:               e.WeedCommonName,
			WeedScientificName: e.WeedScientificName,
			Rate:               RateRecord{Descriptor: perHectare(e.RatePerHa)},
			Efficacy:           strings.ToLower(strings.TrimSpace(e.ControlLevel)),
			Jurisdictions:      e.States,
			Comments:           e.CriticalComments,
		}
		if u.Efficacy == "" {
			u.Efficacy = EfficacyControl
		}
		if t := strings.TrimSpace(e.ApplicationTiming); t != "" {
			u.Timing = []string{t}
		}
		if wp := strings.TrimSpace(l.WithholdingPeriod); wp != "" {
			u.Restrictions = append(u.Restrictions, RestrictionRecord{Type: RestrictionWithholding, Value: wp})
		}
		p.Uses = append(p.Uses, u)
	}
	return p
}

func perHectare(rate string) string {
	rate = strings.TrimSpace(rate)
	if rate == "" || strings.Contains(rate, "/") {
		return rate
	}
	return rate + "/ha"
}

var (
	constituentRe    = regexp.MustCompile(`^\s*([\d]+(?:\.\d+)?)\s*([a-zA-Zµ%]+(?:/[a-zA-Z]+)?)\s+(.+?)\s*$`)
	constituentSplit = regexp.MustCompile(`(?i)\s+(?:and|\+)\s+|;`)
	saltSuffix       = regexp.MustCompile(`(?i)\s+(present as|as the|in the form of)\s.*$|\s*\(.*\)\s*$`)
)

// ParseConstituents splits an active-constituent string such as
// "450 g/L glyphosate present as the isopropylamine salt" or
// "300 g/L bromoxynil and 200 g/L MCPA" into constituent records.
func ParseConstituents(raw, chemicalGroup string) []ConstituentRecord {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []ConstituentRecord
	for _, part := range constituentSplit.Split(raw, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		c := ConstituentRecord{Name: part, ChemicalGroup: chemicalGroup}
		if m := constituentRe.FindStringSubmatch(part); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				c.Concentration = &Quantity{Value: v, Unit: m[2]}
				c.Name = m[3]
			}
		}
		c.Name = strings.TrimSpace(saltSuffix.ReplaceAllString(c.Name, ""))
		if c.Name != "" {
			out = append(out, c)
		}
	}
	return out
}
