package parser_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfe-collector/internal/model"
	"github.com/rezonia/nfe-collector/internal/parser"
	"github.com/rezonia/nfe-collector/internal/validator"
)

func readTestFile(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func TestDetectDocumentType(t *testing.T) {
	tests := []struct {
		name     string
		content  []byte
		expected model.DocumentType
	}{
		{
			name:     "model 55 is the standard invoice",
			content:  readTestFile(t, "nfe_v4.xml"),
			expected: model.DocumentTypeNFe,
		},
		{
			name:     "model 65 is the consumer variant",
			content:  readTestFile(t, "nfce_v4.xml"),
			expected: model.DocumentTypeNFCe,
		},
		{
			name:     "unrecognized root",
			content:  []byte(`<Invoice><Number>1</Number></Invoice>`),
			expected: model.DocumentTypeUnknown,
		},
		{
			name:     "unrecognized model code",
			content:  []byte(`<NFe><infNFe versao="4.00"><ide><mod>42</mod></ide></infNFe></NFe>`),
			expected: model.DocumentTypeUnknown,
		},
		{
			name:     "not xml at all",
			content:  []byte(`{"kind":"json"}`),
			expected: model.DocumentTypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parser.DetectDocumentType(tt.content))
		})
	}
}

func TestDetectVersion(t *testing.T) {
	assert.Equal(t, model.Version400, parser.DetectVersion(readTestFile(t, "nfe_v4.xml")))
	assert.Equal(t, model.VersionUnknown,
		parser.DetectVersion([]byte(`<NFe><infNFe versao="9.99"><ide><mod>55</mod></ide></infNFe></NFe>`)))
}

func TestParser_Parse_NFe(t *testing.T) {
	content := readTestFile(t, "nfe_v4.xml")

	p := parser.NewParser()
	result := p.Parse(context.Background(), content, "nfe_v4.xml")
	require.True(t, result.OK(), "parse failed: %v", result.Err)

	inv := result.Invoice
	assert.Equal(t, "35200114200166000187550010000000046550000046", inv.AccessKey)
	assert.Equal(t, model.DocumentTypeNFe, inv.Type)
	assert.Equal(t, model.Version400, inv.Version)
	assert.Equal(t, "1", inv.Series)
	assert.Equal(t, "4", inv.Number)
	assert.True(t, inv.IssuedAt.UTC().Equal(time.Date(2026, 3, 12, 13, 30, 0, 0, time.UTC)))
	assert.True(t, inv.SignaturePresent)
	assert.NotEmpty(t, result.ContentHash)
	assert.Equal(t, result.ContentHash, inv.ContentHash)

	// Issuer
	assert.Equal(t, "14200166000187", inv.Issuer.TaxID)
	assert.Equal(t, "Mercado Bom Preco Ltda", inv.Issuer.Name)
	assert.Equal(t, "Rua das Laranjeiras, 120", inv.Issuer.Address)
	assert.Equal(t, "SP", inv.Issuer.State)

	// Recipient
	require.NotNil(t, inv.Recipient)
	assert.Equal(t, "04252011000110", inv.Recipient.TaxID)

	// Items
	require.Len(t, inv.Items, 2)
	first := inv.Items[0]
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, "SKU-001", first.ProductCode)
	assert.Equal(t, "10063021", first.NCM)
	assert.Equal(t, "5102", first.CFOP)
	assert.True(t, first.Quantity.Equal(decimal.RequireFromString("2")))
	assert.True(t, first.UnitPrice.Equal(decimal.RequireFromString("25.50")))
	require.NotNil(t, first.ICMS)
	assert.Equal(t, "00", first.ICMS.CST)
	assert.True(t, first.ICMS.Amount.Equal(decimal.RequireFromString("9.18")))
	require.NotNil(t, first.PIS)
	assert.True(t, first.PIS.Amount.Equal(decimal.RequireFromString("0.84")))
	require.NotNil(t, first.COFINS)
	assert.True(t, first.COFINS.Amount.Equal(decimal.RequireFromString("3.88")))

	// Exempt line: tax groups present but amount-free
	second := inv.Items[1]
	require.NotNil(t, second.ICMS)
	assert.Equal(t, "40", second.ICMS.CST)
	assert.True(t, second.ICMS.Amount.IsZero())
	require.NotNil(t, second.PIS)
	assert.Equal(t, "06", second.PIS.CST)

	// Totals
	assert.True(t, inv.Totals.Gross.Equal(decimal.RequireFromString("77.70")))
	assert.True(t, inv.Totals.ICMS.Equal(decimal.RequireFromString("9.18")))

	// Payments
	require.Len(t, inv.Payments, 2)
	assert.Equal(t, model.PaymentCash, inv.Payments[0].Method)
	assert.Equal(t, model.PaymentPix, inv.Payments[1].Method)
	assert.True(t, inv.Payments[1].Amount.Equal(decimal.RequireFromString("27.70")))
}

func TestParser_Parse_NFCe_CommaDecimals(t *testing.T) {
	content := readTestFile(t, "nfce_v4.xml")

	p := parser.NewParser()
	result := p.Parse(context.Background(), content, "nfce_v4.xml")
	require.True(t, result.OK(), "parse failed: %v", result.Err)

	inv := result.Invoice
	assert.Equal(t, model.DocumentTypeNFCe, inv.Type)
	assert.Nil(t, inv.Recipient)
	assert.False(t, inv.SignaturePresent)

	// comma decimal separator parses to the same value as dot notation
	assert.True(t, inv.Totals.Gross.Equal(decimal.RequireFromString("4.50")))
	require.Len(t, inv.Items, 1)
	assert.True(t, inv.Items[0].UnitPrice.Equal(decimal.RequireFromString("4.50")))

	// Simples Nacional line uses CSOSN in place of CST
	require.NotNil(t, inv.Items[0].ICMS)
	assert.Equal(t, "102", inv.Items[0].ICMS.CST)
}

func TestParser_Parse_MalformedXML(t *testing.T) {
	p := parser.NewParser()
	result := p.Parse(context.Background(), []byte(`<NFe><infNFe>`), "broken.xml")

	require.False(t, result.OK())
	var parseErr *model.ParseError
	require.ErrorAs(t, result.Err, &parseErr)
}

func TestParser_Parse_MissingInfNFe(t *testing.T) {
	p := parser.NewParser()
	result := p.Parse(context.Background(), []byte(`<NFe></NFe>`), "empty.xml")

	require.False(t, result.OK())
	var parseErr *model.ParseError
	require.ErrorAs(t, result.Err, &parseErr)
	assert.Equal(t, "infNFe", parseErr.Field)
}

func TestParser_Parse_InvalidAccessKey(t *testing.T) {
	content := []byte(`<NFe><infNFe Id="NFe123" versao="4.00"><ide><mod>55</mod></ide><emit><CNPJ>1</CNPJ></emit></infNFe></NFe>`)

	p := parser.NewParser()
	result := p.Parse(context.Background(), content, "shortkey.xml")

	require.False(t, result.OK())
	var parseErr *model.ParseError
	require.ErrorAs(t, result.Err, &parseErr)
	assert.Equal(t, "Id", parseErr.Field)
}

func TestParser_StrictNumbers(t *testing.T) {
	content := []byte(`<NFe><infNFe Id="NFe35200114200166000187550010000000046550000046" versao="4.00">` +
		`<ide><mod>55</mod><serie>1</serie><nNF>4</nNF></ide>` +
		`<emit><CNPJ>14200166000187</CNPJ></emit>` +
		`<total><ICMSTot><vNF>abc</vNF></ICMSTot></total>` +
		`</infNFe></NFe>`)

	lenient := parser.NewParser()
	result := lenient.Parse(context.Background(), content, "bad_total.xml")
	require.True(t, result.OK(), "lenient parse failed: %v", result.Err)
	assert.True(t, result.Invoice.Totals.Gross.IsZero())

	strict := parser.NewParser(parser.WithStrictNumbers())
	result = strict.Parse(context.Background(), content, "bad_total.xml")
	require.False(t, result.OK())
	assert.Contains(t, result.Err.Error(), "unparsable numeric value")
}

type rejectAll struct{}

func (rejectAll) Validate(ctx context.Context, data []byte) (*validator.Result, error) {
	r := &validator.Result{}
	r.AddError("schema violation at line 3")
	return r, nil
}

func (rejectAll) Name() string { return "reject-all" }

func TestParser_Parse_ValidatorRejects(t *testing.T) {
	content := readTestFile(t, "nfe_v4.xml")

	p := parser.NewParser(parser.WithValidator(rejectAll{}))
	result := p.Parse(context.Background(), content, "nfe_v4.xml")

	require.False(t, result.OK())
	var valErr *model.ValidationError
	require.ErrorAs(t, result.Err, &valErr)
	assert.Contains(t, valErr.Message, "schema violation")
}

func TestParser_Parse_RecordsDuration(t *testing.T) {
	p := parser.NewParser()
	result := p.Parse(context.Background(), readTestFile(t, "nfe_v4.xml"), "nfe_v4.xml")
	assert.Greater(t, result.ProcessingTime, time.Duration(0))
}
