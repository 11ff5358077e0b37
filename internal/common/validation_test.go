package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatorCollectsErrors(t *testing.T) {
	v := NewValidator().
		Field("item_id", "not-a-uuid", Required, UUID).
		Field("file_path", "relative/path.png", Required, AbsolutePath).
		Field("total_amount", "12.3.4", Amount).
		Field("receipt_date", "03/04/2024", ISODate).
		Field("reviewer", "someone-with-a-long-name", MaxLength(5))

	assert.True(t, v.HasErrors())
	assert.Len(t, v.Errors(), 5)
	assert.True(t, IsValidation(v.Error()))
	assert.Contains(t, v.ErrorMessage(), "receipt_date")
}

func TestValidatorAcceptsGoodValues(t *testing.T) {
	v := NewValidator().
		Field("item_id", "0b8e9a5c-4a53-4b8e-9b8c-6f7d1b2f3a4c", Required, UUID).
		Field("file_path", "/srv/inbox/ready_a.png", AbsolutePath).
		Field("total_amount", "$1,234.56", Amount).
		Field("tax_amount", "", Amount).
		Field("receipt_date", "2024-03-04", ISODate)

	assert.False(t, v.HasErrors())
	assert.NoError(t, v.Error())
	assert.Empty(t, v.ErrorMessage())
}
