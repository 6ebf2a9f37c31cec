package kgerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationCarriesField(t *testing.T) {
	err := Validation(CodeRecordValidation, "registration_number", "required")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.False(t, IsTransient(err))
	assert.Equal(t, "registration_number", FieldOf(err, "field"))
	assert.Contains(t, err.Error(), "registration_number: required")
}

func TestSchemaNamesObject(t *testing.T) {
	err := Schema(errors.New("index already exists"), "uq_products_registration")
	assert.True(t, IsSchema(err))
	assert.Equal(t, "uq_products_registration", FieldOf(err, "object"))
	assert.Contains(t, err.Error(), "uq_products_registration")
}

func TestTransientSurvivesFmtWrap(t *testing.T) {
	base := Wrap(errors.New("database is locked"), CodeStoreTransient, "upsert product")
	wrapped := fmt.Errorf("record 3: %w", base)
	assert.True(t, IsTransient(wrapped))
	assert.Equal(t, CodeStoreTransient, CodeOf(wrapped))
}

func TestPlainErrorsHaveNoClass(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, Code(""), CodeOf(err))
	assert.False(t, IsValidation(err))
	assert.False(t, IsConflict(err))
	assert.Nil(t, FieldsOf(nil))
	assert.Nil(t, Wrap(nil, CodeSchema, "noop"))
}
