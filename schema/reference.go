package schema

import (
	"strings"

	"github.com/bbiangul/agrokg/store"
)

// ReferenceData is a versioned set of static reference entities. Seeding a
// higher version upgrades rows seeded by a lower one; seeding the same or a
// lower version is a no-op.
type ReferenceData struct {
	Version       int
	Jurisdictions []store.Jurisdiction
	ModesOfAction []store.ModeOfAction
}

// Reference is the reference set seeded by Initialize. It is read-only.
var Reference = ReferenceData{
	Version: 1,
	Jurisdictions: []store.Jurisdiction{
		{Code: "NSW", Name: "New South Wales"},
		{Code: "VIC", Name: "Victoria"},
		{Code: "QLD", Name: "Queensland"},
		{Code: "SA", Name: "South Australia"},
		{Code: "WA", Name: "Western Australia"},
		{Code: "TAS", Name: "Tasmania"},
		{Code: "NT", Name: "Northern Territory"},
		{Code: "ACT", Name: "Australian Capital Territory"},
	},
	ModesOfAction: []store.ModeOfAction{
		{Code: "A", Description: "Inhibition of acetyl CoA carboxylase (ACCase inhibitors)", ResistanceRisk: "high", ChemicalClasses: []string{"Dens", "Dims", "Fops"}},
		{Code: "B", Description: "Inhibition of acetolactate synthase (ALS inhibitors)", ResistanceRisk: "high", ChemicalClasses: []string{"Imidazolinones", "Sulfonylureas", "Triazolopyrimidines"}},
		{Code: "C", Description: "Inhibition of photosynthesis at photosystem II", ResistanceRisk: "moderate", ChemicalClasses: []string{"Nitriles", "Triazines", "Ureas"}},
		{Code: "D", Description: "Inhibition of photosynthesis at photosystem I", ResistanceRisk: "moderate", ChemicalClasses: []string{"Bipyridyliums"}},
		{Code: "E", Description: "Inhibition of protoporphyrinogen oxidase (PPO)", ResistanceRisk: "moderate", ChemicalClasses: []string{"Diphenyl ethers", "Oxadiazoles"}},
		{Code: "F", Description: "Bleaching: inhibition of carotenoid biosynthesis", ResistanceRisk: "moderate", ChemicalClasses: []string{"Isoxazoles", "Pyridazinones", "Triketones"}},
		{Code: "G", Description: "Inhibition of EPSP synthase", ResistanceRisk: "moderate", ChemicalClasses: []string{"Glycines"}},
		{Code: "H", Description: "Inhibition of glutamine synthetase", ResistanceRisk: "low", ChemicalClasses: []string{"Phosphinic acids"}},
		{Code: "I", Description: "Inhibition of DHP synthase", ResistanceRisk: "low", ChemicalClasses: []string{"Carbamates"}},
		{Code: "J", Description: "Inhibition of microtubule assembly", ResistanceRisk: "moderate", ChemicalClasses: []string{"Benzamides", "Dinitroanilines"}},
		{Code: "K", Description: "Inhibition of cell division (VLCFA inhibitors)", ResistanceRisk: "moderate", ChemicalClasses: []string{"Chloroacetamides", "Oxyacetamides"}},
		{Code: "L", Description: "Inhibition of cell wall synthesis", ResistanceRisk: "low", ChemicalClasses: []string{"Benzamides", "Nitriles"}},
		{Code: "M", Description: "Uncouplers", ResistanceRisk: "low", ChemicalClasses: []string{"Dinitrophenols"}},
		{Code: "N", Description: "Inhibition of lipid synthesis (not ACCase)", ResistanceRisk: "moderate", ChemicalClasses: []string{"Phosphorodithioates", "Thiocarbamates"}},
		{Code: "O", Description: "Synthetic auxins (IAA mimics)", ResistanceRisk: "moderate", ChemicalClasses: []string{"Benzoic acids", "Phenoxy acids", "Pyridine carboxylic acids"}},
		{Code: "P", Description: "Inhibition of auxin transport", ResistanceRisk: "low", ChemicalClasses: []string{"Phthalamates", "Semicarbazones"}},
		{Code: "Q", Description: "Unknown mode of action", ResistanceRisk: "low", ChemicalClasses: []string{"Various"}},
		{Code: "R", Description: "Inhibition of dihydropteroate synthase", ResistanceRisk: "low", ChemicalClasses: []string{"Sulfonamides"}},
		{Code: "Z", Description: "Unknown or not classified", ResistanceRisk: "unknown", ChemicalClasses: []string{"Various"}},
	},
}

// AllJurisdictions is the record value that expands to every seeded
// jurisdiction.
const AllJurisdictions = "ALL"

// JurisdictionCode maps a code or display name ("Western Australia") to its
// code. Unknown values are returned upper-cased with ok false.
func (r ReferenceData) JurisdictionCode(raw string) (code string, ok bool) {
	raw = strings.TrimSpace(raw)
	up := strings.ToUpper(raw)
	for _, j := range r.Jurisdictions {
		if j.Code == up || strings.EqualFold(j.Name, raw) {
			return j.Code, true
		}
	}
	return up, false
}

// ModeCode validates a resistance-group code.
func (r ReferenceData) ModeCode(code string) bool {
	for _, m := range r.ModesOfAction {
		if m.Code == code {
			return true
		}
	}
	return false
}
