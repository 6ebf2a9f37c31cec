// Package kgerr defines the error taxonomy shared by the ingestion and query
// paths. Every error carries a dotted Code whose last segment is the class:
// validation, conflict, transient or schema.
package kgerr

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeRecordValidation Code = "loader.record.validation"
	CodeRecordConflict   Code = "loader.record.conflict"
	CodeStoreTransient   Code = "store.transient"
	CodeEmbedTransient   Code = "embed.transient"
	CodeSchema           Code = "schema.object.schema"
	CodeQueryValidation  Code = "query.params.validation"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

// Validation reports a malformed record or query parameter. field names the
// offending input, e.g. "registered_uses[0].crop".
func Validation(code Code, field, msg string) error {
	return New(code, fmt.Sprintf("%s: %s", field, msg), Field("field", field))
}

// Schema reports a failed schema object by name.
func Schema(err error, object string) error {
	return Wrap(err, CodeSchema, "applying schema object "+object, Field("object", object))
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}
	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}
	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

// FieldOf returns the string value of one structured field, or "".
func FieldOf(err error, key string) string {
	v, ok := FieldsOf(err)[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}

func IsValidation(err error) bool { return class(CodeOf(err)) == "validation" }
func IsConflict(err error) bool   { return class(CodeOf(err)) == "conflict" }
func IsTransient(err error) bool  { return class(CodeOf(err)) == "transient" }
func IsSchema(err error) bool     { return class(CodeOf(err)) == "schema" }

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		pairs = append(pairs, f.Key, f.Value)
	}
	return pairs
}

func class(code Code) string {
	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
