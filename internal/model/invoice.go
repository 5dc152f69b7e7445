package model

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentType classifies the fiscal document by its model code.
type DocumentType string

const (
	// DocumentTypeNFe is the standard electronic invoice (model 55).
	DocumentTypeNFe DocumentType = "NFE"
	// DocumentTypeNFCe is the consumer-facing variant (model 65).
	DocumentTypeNFCe DocumentType = "NFCE"
	// DocumentTypeUnknown is returned for unrecognized document roots.
	DocumentTypeUnknown DocumentType = "UNKNOWN"
)

// Model codes carried in the ide/mod field.
const (
	ModelCodeNFe  = "55"
	ModelCodeNFCe = "65"
)

// SchemaVersion is the layout version declared on the infNFe block.
type SchemaVersion string

const (
	Version400     SchemaVersion = "4.00"
	Version310     SchemaVersion = "3.10"
	VersionUnknown SchemaVersion = "UNKNOWN"
)

// ParseSchemaVersion maps the versao attribute to a known version.
// Unrecognized values map to VersionUnknown rather than failing.
func ParseSchemaVersion(s string) SchemaVersion {
	switch s {
	case "4.00":
		return Version400
	case "3.10":
		return Version310
	default:
		return VersionUnknown
	}
}

// AccessKeyLength is the fixed length of an NFe access key.
const AccessKeyLength = 44

var accessKeyPattern = regexp.MustCompile(`^[0-9]{44}$`)

// ValidAccessKey reports whether s is a well-formed 44-digit access key.
func ValidAccessKey(s string) bool {
	return accessKeyPattern.MatchString(s)
}

// Invoice is the normalized fiscal document. It is a value object:
// built once by the parser and never mutated afterwards. A reprocessed
// file produces a new Invoice, it does not edit an existing one.
type Invoice struct {
	// AccessKey is the 44-digit key uniquely naming the document.
	AccessKey string        `json:"access_key"`
	Type      DocumentType  `json:"document_type"`
	Version   SchemaVersion `json:"schema_version"`

	Series   string    `json:"series"`
	Number   string    `json:"number"`
	IssuedAt time.Time `json:"issued_at"`

	Issuer    Party  `json:"issuer"`
	Recipient *Party `json:"recipient,omitempty"`

	Totals Totals `json:"totals"`

	Items    []LineItem `json:"items"`
	Payments []Payment  `json:"payments,omitempty"`

	// ContentHash is the sha256 of the raw document bytes, used for
	// duplicate suppression at enqueue time.
	ContentHash string `json:"content_hash"`

	SignaturePresent bool `json:"signature_present"`

	// RawXML holds the original bytes; excluded from the wire payload.
	RawXML []byte `json:"-"`
}

// Party identifies the issuer or recipient of an invoice.
type Party struct {
	// CNPJ or CPF, digits only.
	TaxID             string `json:"tax_id"`
	Name              string `json:"name,omitempty"`
	StateRegistration string `json:"state_registration,omitempty"`
	Address           string `json:"address,omitempty"`
	City              string `json:"city,omitempty"`
	State             string `json:"state,omitempty"`
	ZipCode           string `json:"zip_code,omitempty"`
}

// Totals carries the invoice-level monetary summary.
type Totals struct {
	Gross    decimal.Decimal `json:"gross"`
	Products decimal.Decimal `json:"products"`
	Discount decimal.Decimal `json:"discount"`
	ICMSBase decimal.Decimal `json:"icms_base"`
	ICMS     decimal.Decimal `json:"icms"`
	PIS      decimal.Decimal `json:"pis"`
	COFINS   decimal.Decimal `json:"cofins"`
}

// LineItem is one product line of an invoice. Line items are owned by
// their Invoice and have no standalone identity.
type LineItem struct {
	Number      int    `json:"number"`
	ProductCode string `json:"product_code"`
	Description string `json:"description"`
	// NCM and CFOP are the government tax classification codes.
	NCM  string `json:"ncm,omitempty"`
	CFOP string `json:"cfop,omitempty"`
	Unit string `json:"unit,omitempty"`

	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`

	// Tax sub-blocks are presence-optional in the source documents, so
	// each category is a tagged optional variant rather than a map.
	ICMS   *ICMSTax   `json:"icms,omitempty"`
	PIS    *PISTax    `json:"pis,omitempty"`
	COFINS *COFINSTax `json:"cofins,omitempty"`
}

// ICMSTax is the state value-added tax detail for a line.
type ICMSTax struct {
	Origin string          `json:"origin,omitempty"`
	CST    string          `json:"cst,omitempty"`
	Base   decimal.Decimal `json:"base"`
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
}

// PISTax is the federal PIS levy detail for a line.
type PISTax struct {
	CST    string          `json:"cst,omitempty"`
	Base   decimal.Decimal `json:"base"`
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
}

// COFINSTax is the federal COFINS levy detail for a line.
type COFINSTax struct {
	CST    string          `json:"cst,omitempty"`
	Base   decimal.Decimal `json:"base"`
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
}

// PaymentMethod is the coded payment method from the pag block.
type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "01"
	PaymentCheck      PaymentMethod = "02"
	PaymentCredit     PaymentMethod = "03"
	PaymentDebit      PaymentMethod = "04"
	PaymentStoreCred  PaymentMethod = "05"
	PaymentFoodStamp  PaymentMethod = "10"
	PaymentPix        PaymentMethod = "17"
	PaymentNoPayment  PaymentMethod = "90"
	PaymentOther      PaymentMethod = "99"
)

// Label returns a human-readable name for the payment method code.
func (m PaymentMethod) Label() string {
	switch m {
	case PaymentCash:
		return "cash"
	case PaymentCheck:
		return "check"
	case PaymentCredit:
		return "credit card"
	case PaymentDebit:
		return "debit card"
	case PaymentStoreCred:
		return "store credit"
	case PaymentFoodStamp:
		return "food voucher"
	case PaymentPix:
		return "pix"
	case PaymentNoPayment:
		return "no payment"
	case PaymentOther:
		return "other"
	default:
		return string(m)
	}
}

// Payment is one settlement record from the pag block.
type Payment struct {
	Method PaymentMethod   `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}
