package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfe-collector/internal/model"
)

func TestInvoice_Creation(t *testing.T) {
	inv := model.Invoice{
		AccessKey: "35200114200166000187550010000000046550000046",
		Type:      model.DocumentTypeNFe,
		Version:   model.Version400,
		Series:    "1",
		Number:    "4",
		IssuedAt:  time.Date(2026, 3, 12, 10, 30, 0, 0, time.UTC),
		Issuer: model.Party{
			TaxID: "14200166000187",
			Name:  "Mercado Bom Preco Ltda",
			State: "SP",
		},
	}

	assert.Equal(t, model.DocumentTypeNFe, inv.Type)
	assert.Equal(t, model.Version400, inv.Version)
	assert.Equal(t, "14200166000187", inv.Issuer.TaxID)
	assert.Nil(t, inv.Recipient)
}

func TestValidAccessKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"valid 44 digits", "35200114200166000187550010000000046550000046", true},
		{"too short", "3520011420016600018755001000000004655000004", false},
		{"too long", "352001142001660001875500100000000465500000461", false},
		{"non numeric", "3520011420016600018755001000000004655000004X", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, model.ValidAccessKey(tt.key))
		})
	}
}

func TestParseSchemaVersion(t *testing.T) {
	assert.Equal(t, model.Version400, model.ParseSchemaVersion("4.00"))
	assert.Equal(t, model.Version310, model.ParseSchemaVersion("3.10"))
	assert.Equal(t, model.VersionUnknown, model.ParseSchemaVersion("9.99"))
	assert.Equal(t, model.VersionUnknown, model.ParseSchemaVersion(""))
}

func TestPaymentMethod_Label(t *testing.T) {
	assert.Equal(t, "cash", model.PaymentCash.Label())
	assert.Equal(t, "pix", model.PaymentPix.Label())
	assert.Equal(t, "42", model.PaymentMethod("42").Label())
}

func TestInvoice_JSONOmitsRawXML(t *testing.T) {
	inv := model.Invoice{
		AccessKey: "35200114200166000187550010000000046550000046",
		Type:      model.DocumentTypeNFe,
		Totals:    model.Totals{Gross: decimal.RequireFromString("10.00")},
		RawXML:    []byte("<NFe></NFe>"),
	}

	b, err := json.Marshal(inv)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "RawXML")
	assert.Contains(t, string(b), `"gross":"10.00"`)
}

func TestDuplicateError(t *testing.T) {
	err := &model.DuplicateError{AccessKey: "key", ContentHash: "abc"}
	assert.Contains(t, err.Error(), "duplicate invoice")
}

func TestConflictError(t *testing.T) {
	err := &model.ConflictError{AccessKey: "key", ExistingHash: "a", NewHash: "b"}
	assert.Contains(t, err.Error(), "different content")
}

func TestParseError_Unwrap(t *testing.T) {
	cause := assert.AnError
	err := model.NewParseError(model.DocumentTypeNFe, "infNFe", "missing block", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "infNFe")
}
