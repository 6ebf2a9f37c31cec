// Package extraction defines the structured records produced by the external
// extraction step. A record is a tagged union: the "kind" field selects
// between the RegisteredUse-centric product shape and the flat label shape
// emitted by older extractors. Both normalise to *ProductRecord.
package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags a record shape.
type Kind string

const (
	KindProduct Kind = "product"
	KindLabel   Kind = "label"
)

// Record is implemented by every record shape.
type Record interface {
	Kind() Kind
	// Product returns the record in the RegisteredUse-centric shape.
	Product() *ProductRecord
	isRecord()
}

// DocumentInfo describes the source document a record was extracted from.
// Version and EffectiveDate decide which document wins on scalar conflicts.
type DocumentInfo struct {
	SourceID      string `json:"source_id"`
	Version       int    `json:"version,omitempty"`
	EffectiveDate string `json:"effective_date,omitempty"` // YYYY-MM-DD
	Title         string `json:"title,omitempty"`
}

// Validate checks the effective date format.
func (d DocumentInfo) Validate() error {
	if d.EffectiveDate == "" {
		return nil
	}
	if _, err := time.Parse(time.DateOnly, d.EffectiveDate); err != nil {
		return fmt.Errorf("effective_date %q: want YYYY-MM-DD", d.EffectiveDate)
	}
	return nil
}

// Envelope is one decoded record with its provenance.
type Envelope struct {
	Kind     Kind
	Document *DocumentInfo
	Record   Record
}

type header struct {
	Kind     Kind            `json:"kind"`
	Document *DocumentInfo   `json:"document"`
	Record   json.RawMessage `json:"record"`
}

// Decode parses a single envelope. The record body is read from "record" when
// present, otherwise from the envelope object itself. Without an explicit
// kind, objects carrying "product_number" are treated as labels.
func Decode(data []byte) (*Envelope, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decoding record envelope: %w", err)
	}
	body := data
	if len(h.Record) > 0 {
		body = h.Record
	}
	kind := h.Kind
	if kind == "" {
		kind = sniffKind(body)
	}

	var rec Record
	switch kind {
	case KindProduct:
		var p ProductRecord
		if err := strictUnmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decoding product record: %w", err)
		}
		rec = &p
	case KindLabel:
		var l LabelRecord
		if err := strictUnmarshal(body, &l); err != nil {
			return nil, fmt.Errorf("decoding label record: %w", err)
		}
		rec = &l
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	return &Envelope{Kind: kind, Document: h.Document, Record: rec}, nil
}

// DecodeAll parses either one envelope or a JSON array of envelopes.
func DecodeAll(data []byte) ([]*Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty record file")
	}
	if trimmed[0] != '[' {
		env, err := Decode(trimmed)
		if err != nil {
			return nil, err
		}
		return []*Envelope{env}, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, fmt.Errorf("decoding record array: %w", err)
	}
	out := make([]*Envelope, 0, len(raws))
	for i, raw := range raws {
		env, err := Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, env)
	}
	return out, nil
}

func sniffKind(body []byte) Kind {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return KindProduct
	}
	if _, ok := probe["product_number"]; ok {
		return KindLabel
	}
	return KindProduct
}

// strictUnmarshal rejects unknown fields so shape mistakes surface as
// decode errors instead of silently dropped data. Envelope keys are allowed.
func strictUnmarshal(data []byte, v any) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	delete(m, "kind")
	delete(m, "document")
	clean, err := json.Marshal(m)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(clean))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
