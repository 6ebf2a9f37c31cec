package store

// Constraints are the natural-key uniqueness constraints, one per node type,
// plus the relationship dedup key. Upserts depend on them: every
// ON CONFLICT clause targets one of these indexes.
var Constraints = []Object{
	{"uq_document_source", "CREATE UNIQUE INDEX uq_document_source ON documents(source_id)"},
	{"uq_product_registration", "CREATE UNIQUE INDEX uq_product_registration ON products(registration_number)"},
	{"uq_active_constituent_name", "CREATE UNIQUE INDEX uq_active_constituent_name ON active_constituents(name)"},
	{"uq_mode_of_action_code", "CREATE UNIQUE INDEX uq_mode_of_action_code ON modes_of_action(code)"},
	{"uq_jurisdiction_code", "CREATE UNIQUE INDEX uq_jurisdiction_code ON jurisdictions(code)"},
	{"uq_crop_name", "CREATE UNIQUE INDEX uq_crop_name ON crops(name)"},
	{"uq_weed_name", "CREATE UNIQUE INDEX uq_weed_name ON weeds(name)"},
	{"uq_growth_stage_code", "CREATE UNIQUE INDEX uq_growth_stage_code ON growth_stages(code)"},
	{"uq_registered_use", "CREATE UNIQUE INDEX uq_registered_use ON registered_uses(product_id, crop_id, weed_id, rate_descriptor)"},
	{"uq_application_rate", "CREATE UNIQUE INDEX uq_application_rate ON application_rates(use_id, value_text, unit, method)"},
	{"uq_restriction", "CREATE UNIQUE INDEX uq_restriction ON restrictions(use_id, restriction_type)"},
	{"uq_chunk_seq", "CREATE UNIQUE INDEX uq_chunk_seq ON chunks(document_id, seq)"},
	{"uq_edge", "CREATE UNIQUE INDEX uq_edge ON edges(rel_type, src_kind, src_id, dst_kind, dst_id, discriminator)"},
}

// LookupIndexes serve the common query predicates: weed name, crop name,
// jurisdiction code and edge traversal in both directions.
var LookupIndexes = []Object{
	{"idx_weed_scientific", "CREATE INDEX idx_weed_scientific ON weeds(scientific_name)"},
	{"idx_crop_class", "CREATE INDEX idx_crop_class ON crops(crop_class)"},
	{"idx_product_name", "CREATE INDEX idx_product_name ON products(name)"},
	{"idx_use_weed", "CREATE INDEX idx_use_weed ON registered_uses(weed_id)"},
	{"idx_use_crop", "CREATE INDEX idx_use_crop ON registered_uses(crop_id)"},
	{"idx_constituent_group", "CREATE INDEX idx_constituent_group ON active_constituents(chemical_group)"},
	{"idx_edges_src", "CREATE INDEX idx_edges_src ON edges(rel_type, src_id)"},
	{"idx_edges_dst", "CREATE INDEX idx_edges_dst ON edges(rel_type, dst_kind, dst_id)"},
	{"idx_chunks_document", "CREATE INDEX idx_chunks_document ON chunks(document_id)"},
}

// SchemaObjects returns constraints followed by lookup indexes.
func SchemaObjects() []Object {
	out := make([]Object, 0, len(Constraints)+len(LookupIndexes))
	out = append(out, Constraints...)
	return append(out, LookupIndexes...)
}
