package mirror

import (
	"strings"
	"time"

	"github.com/bbiangul/agrokg/loader"
)

// Statement is one parameterised Cypher statement.
type Statement struct {
	Cypher string
	Params map[string]any
}

// Constraints returns the uniqueness constraints mirrored from the store's
// natural keys.
func Constraints() []string {
	return []string{
		`CREATE CONSTRAINT product_registration IF NOT EXISTS FOR (p:Product) REQUIRE p.registration_number IS UNIQUE`,
		`CREATE CONSTRAINT crop_name IF NOT EXISTS FOR (c:Crop) REQUIRE c.name IS UNIQUE`,
		`CREATE CONSTRAINT weed_name IF NOT EXISTS FOR (w:Weed) REQUIRE w.name IS UNIQUE`,
		`CREATE CONSTRAINT constituent_name IF NOT EXISTS FOR (a:ActiveConstituent) REQUIRE a.name IS UNIQUE`,
		`CREATE CONSTRAINT mode_code IF NOT EXISTS FOR (m:ModeOfAction) REQUIRE m.code IS UNIQUE`,
		`CREATE CONSTRAINT jurisdiction_code IF NOT EXISTS FOR (j:Jurisdiction) REQUIRE j.code IS UNIQUE`,
		`CREATE CONSTRAINT growth_stage_code IF NOT EXISTS FOR (g:GrowthStage) REQUIRE g.code IS UNIQUE`,
		`CREATE CONSTRAINT document_source IF NOT EXISTS FOR (d:Document) REQUIRE d.source_id IS UNIQUE`,
		`CREATE CONSTRAINT registered_use_key IF NOT EXISTS FOR (u:RegisteredUse) REQUIRE u.key IS UNIQUE`,
	}
}

const productCypher = `
MERGE (p:Product {registration_number: $registration_number})
SET p.synced_at = $synced_at,
    p.name = CASE WHEN $name = '' THEN p.name ELSE $name END,
    p.formulation_type = CASE WHEN $formulation_type = '' THEN p.formulation_type ELSE $formulation_type END,
    p.registrant = CASE WHEN $registrant = '' THEN p.registrant ELSE $registrant END
MERGE (d:Document {source_id: $document})
SET d.effective_date = $effective_date, d.version = $version
MERGE (p)-[:HAS_LABEL]->(d)
`

const constituentsCypher = `
UNWIND $constituents AS name
MATCH (p:Product {registration_number: $registration_number})
MERGE (a:ActiveConstituent {name: name})
MERGE (p)-[:CONTAINS]->(a)
`

const modesCypher = `
UNWIND $modes AS code
MATCH (p:Product {registration_number: $registration_number})
MERGE (m:ModeOfAction {code: code})
MERGE (p)-[:HAS_MODE_OF_ACTION]->(m)
`

const usesCypher = `
UNWIND $uses AS u
MATCH (p:Product {registration_number: $registration_number})
MERGE (ru:RegisteredUse {key: u.key})
SET ru.rate_descriptor = u.rate_descriptor, ru.synced_at = $synced_at
MERGE (c:Crop {name: u.crop})
MERGE (w:Weed {name: u.weed})
MERGE (p)-[:HAS_USE]->(ru)
MERGE (ru)-[:FOR_CROP]->(c)
MERGE (ru)-[ctl:CONTROLS {efficacy: u.efficacy, max_growth_stage: u.max_growth_stage}]->(w)
WITH ru, u
UNWIND u.timings AS code
MERGE (g:GrowthStage {code: code})
MERGE (ru)-[:AT_TIMING]->(g)
`

const jurisdictionsCypher = `
UNWIND $uses AS u
MATCH (ru:RegisteredUse {key: u.key})
UNWIND u.jurisdictions AS code
MERGE (j:Jurisdiction {code: code})
MERGE (ru)-[:REGISTERED_IN]->(j)
`

// Plan builds the statements that merge one snapshot. Statements with an
// empty UNWIND list are omitted.
func Plan(snap *loader.Snapshot, now time.Time) []Statement {
	syncedAt := now.UTC().Format(time.RFC3339Nano)
	reg := snap.RegistrationNumber

	stmts := []Statement{{Cypher: productCypher, Params: map[string]any{
		"registration_number": reg,
		"name":                snap.Name,
		"formulation_type":    snap.FormulationType,
		"registrant":          snap.Registrant,
		"document":            snap.Document,
		"effective_date":      snap.EffectiveDate,
		"version":             int64(snap.Version),
		"synced_at":           syncedAt,
	}}}

	if len(snap.Constituents) > 0 {
		stmts = append(stmts, Statement{Cypher: constituentsCypher, Params: map[string]any{
			"registration_number": reg,
			"constituents":        toAny(snap.Constituents),
		}})
	}
	if len(snap.ModesOfAction) > 0 {
		stmts = append(stmts, Statement{Cypher: modesCypher, Params: map[string]any{
			"registration_number": reg,
			"modes":               toAny(snap.ModesOfAction),
		}})
	}
	if len(snap.Uses) == 0 {
		return stmts
	}

	uses := make([]any, 0, len(snap.Uses))
	withJurisdictions := false
	for _, u := range snap.Uses {
		uses = append(uses, map[string]any{
			"key":              UseKey(reg, u),
			"crop":             u.Crop,
			"weed":             u.Weed,
			"rate_descriptor":  u.RateDescriptor,
			"efficacy":         u.Efficacy,
			"max_growth_stage": u.MaxGrowthStage,
			"timings":          toAny(u.Timings),
			"jurisdictions":    toAny(u.Jurisdictions),
		})
		withJurisdictions = withJurisdictions || len(u.Jurisdictions) > 0
	}
	params := map[string]any{"registration_number": reg, "uses": uses, "synced_at": syncedAt}
	stmts = append(stmts, Statement{Cypher: usesCypher, Params: params})
	if withJurisdictions {
		stmts = append(stmts, Statement{Cypher: jurisdictionsCypher, Params: map[string]any{"uses": uses}})
	}
	return stmts
}

// UseKey is the composite natural key of a registered use.
func UseKey(registrationNumber string, u loader.UseSnapshot) string {
	return strings.Join([]string{registrationNumber, u.Crop, u.Weed, u.RateDescriptor}, "|")
}

// toAny converts to the []any the driver expects for list parameters.
func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
