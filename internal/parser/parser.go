// Package parser turns raw NFe/NFCe document bytes into the normalized
// invoice model. Classification is driven by the document content (root
// element and the ide/mod coded field), never by the filename.
package parser

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	moneydec "github.com/rezonia/nfe-collector/internal/decimal"
	"github.com/rezonia/nfe-collector/internal/model"
	"github.com/rezonia/nfe-collector/internal/validator"
)

// ParsingResult carries either a populated Invoice plus metadata or a
// failure reason.
type ParsingResult struct {
	Invoice        *model.Invoice
	DocumentType   model.DocumentType
	Version        model.SchemaVersion
	ContentHash    string
	SourceFile     string
	ProcessingTime time.Duration
	Err            error
}

// OK reports whether parsing produced an invoice.
func (r *ParsingResult) OK() bool {
	return r != nil && r.Err == nil && r.Invoice != nil
}

// Parser parses fiscal documents. Zero-value options give a lenient
// parser with validation disabled.
type Parser struct {
	validator validator.Validator
	strict    bool
}

// Option configures a Parser.
type Option func(*Parser)

// WithValidator gates parsing on the given validator. A failed
// validation aborts parsing with the validator's error detail.
func WithValidator(v validator.Validator) Option {
	return func(p *Parser) { p.validator = v }
}

// WithStrictNumbers turns the zero-fallback for unparsable numeric
// fields into a hard parse failure.
func WithStrictNumbers() Option {
	return func(p *Parser) { p.strict = true }
}

// NewParser creates a parser.
func NewParser(opts ...Option) *Parser {
	p := &Parser{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// rootName returns the local name of the document's root element.
func rootName(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}

// decodeDocument unmarshals either a bare NFe or the nfeProc wrapper.
func decodeDocument(data []byte) (*nfeDoc, error) {
	root, err := rootName(data)
	if err != nil {
		return nil, model.NewParseError(model.DocumentTypeUnknown, "xml", "document is not well-formed", err)
	}

	switch root {
	case "nfeProc":
		var proc nfeProc
		if err := xml.Unmarshal(data, &proc); err != nil {
			return nil, model.NewParseError(model.DocumentTypeUnknown, "xml", "failed to parse nfeProc", err)
		}
		return &proc.NFe, nil
	case "NFe":
		var doc nfeDoc
		if err := xml.Unmarshal(data, &doc); err != nil {
			return nil, model.NewParseError(model.DocumentTypeUnknown, "xml", "failed to parse NFe", err)
		}
		return &doc, nil
	default:
		return nil, model.NewParseError(model.DocumentTypeUnknown, "root",
			fmt.Sprintf("unrecognized document root <%s>", root), nil)
	}
}

// DetectDocumentType classifies a document by its ide/mod coded value:
// 55 is the standard invoice, 65 the consumer-facing variant. An
// unrecognized root yields DocumentTypeUnknown, never an error.
func DetectDocumentType(content []byte) model.DocumentType {
	doc, err := decodeDocument(content)
	if err != nil || doc.InfNFe == nil {
		return model.DocumentTypeUnknown
	}
	switch doc.InfNFe.Ide.Mod {
	case model.ModelCodeNFe:
		return model.DocumentTypeNFe
	case model.ModelCodeNFCe:
		return model.DocumentTypeNFCe
	default:
		return model.DocumentTypeUnknown
	}
}

// DetectVersion reads the schema version attribute on the infNFe block.
func DetectVersion(content []byte) model.SchemaVersion {
	doc, err := decodeDocument(content)
	if err != nil || doc.InfNFe == nil {
		return model.VersionUnknown
	}
	return model.ParseSchemaVersion(doc.InfNFe.Versao)
}

// Parse parses one fiscal document. The filename is metadata only.
func (p *Parser) Parse(ctx context.Context, data []byte, filename string) *ParsingResult {
	start := time.Now()
	result := &ParsingResult{
		SourceFile:   filename,
		DocumentType: model.DocumentTypeUnknown,
		Version:      model.VersionUnknown,
	}
	defer func() { result.ProcessingTime = time.Since(start) }()

	doc, err := decodeDocument(data)
	if err != nil {
		result.Err = err
		return result
	}
	if doc.InfNFe == nil {
		result.Err = model.NewParseError(model.DocumentTypeUnknown, "infNFe", "unrecognized document: missing infNFe block", nil)
		return result
	}

	inf := doc.InfNFe

	switch inf.Ide.Mod {
	case model.ModelCodeNFe:
		result.DocumentType = model.DocumentTypeNFe
	case model.ModelCodeNFCe:
		result.DocumentType = model.DocumentTypeNFCe
	}
	result.Version = model.ParseSchemaVersion(inf.Versao)

	if p.validator != nil {
		verdict, err := p.validator.Validate(ctx, data)
		if err != nil {
			result.Err = model.NewParseError(result.DocumentType, "validation", "validator error", err)
			return result
		}
		if !verdict.Valid {
			result.Err = model.NewValidationError("document", nil, "schema", strings.Join(verdict.Errors, "; "))
			return result
		}
	}

	sum := sha256.Sum256(data)
	result.ContentHash = hex.EncodeToString(sum[:])

	inv, err := p.convert(doc, result.DocumentType, result.Version, data, result.ContentHash)
	if err != nil {
		result.Err = err
		return result
	}
	result.Invoice = inv
	return result
}

// amounts accumulates numeric conversion and keeps the first error when
// strict mode is on; otherwise unparsable values degrade to zero.
type amounts struct {
	docType model.DocumentType
	strict  bool
	err     error
}

func (a *amounts) parse(field, s string) decimal.Decimal {
	if strings.TrimSpace(s) == "" {
		return moneydec.Zero
	}
	d, err := moneydec.ParseAmount(s)
	if err != nil {
		if a.strict && a.err == nil {
			a.err = model.NewParseError(a.docType, field, fmt.Sprintf("unparsable numeric value %q", s), err)
		}
		return moneydec.Zero
	}
	return d
}

func (p *Parser) convert(doc *nfeDoc, docType model.DocumentType, version model.SchemaVersion, raw []byte, hash string) (*model.Invoice, error) {
	inf := doc.InfNFe

	accessKey := stripKeyPrefix(inf.ID)
	if !model.ValidAccessKey(accessKey) {
		return nil, model.NewParseError(docType, "Id", fmt.Sprintf("invalid access key %q", inf.ID), nil)
	}

	a := &amounts{docType: docType, strict: p.strict}

	inv := &model.Invoice{
		AccessKey:        accessKey,
		Type:             docType,
		Version:          version,
		Series:           inf.Ide.Serie,
		Number:           inf.Ide.NNF,
		Issuer:           convertEmit(inf.Emit),
		ContentHash:      hash,
		SignaturePresent: doc.Signature != nil && strings.TrimSpace(doc.Signature.SignatureValue) != "",
		RawXML:           raw,
	}

	if ts, err := parseIssueDate(inf.Ide.DhEmi, inf.Ide.DEmi); err == nil {
		inv.IssuedAt = ts
	}

	if dest := convertDest(inf.Dest); dest != nil {
		inv.Recipient = dest
	}

	for _, det := range inf.Det {
		inv.Items = append(inv.Items, convertItem(det, a))
	}

	inv.Totals = model.Totals{
		Gross:    a.parse("total/vNF", inf.Total.ICMSTot.VNF),
		Products: a.parse("total/vProd", inf.Total.ICMSTot.VProd),
		Discount: a.parse("total/vDesc", inf.Total.ICMSTot.VDesc),
		ICMSBase: a.parse("total/vBC", inf.Total.ICMSTot.VBC),
		ICMS:     a.parse("total/vICMS", inf.Total.ICMSTot.VICMS),
		PIS:      a.parse("total/vPIS", inf.Total.ICMSTot.VPIS),
		COFINS:   a.parse("total/vCOFINS", inf.Total.ICMSTot.VCOF),
	}

	if inf.Pag != nil {
		for _, dp := range inf.Pag.DetPag {
			inv.Payments = append(inv.Payments, model.Payment{
				Method: model.PaymentMethod(dp.TPag),
				Amount: a.parse("pag/vPag", dp.VPag),
			})
		}
	}

	if a.err != nil {
		return nil, a.err
	}
	return inv, nil
}

func convertEmit(e nfeEmit) model.Party {
	party := model.Party{
		TaxID:             firstNonEmpty(e.CNPJ, e.CPF),
		Name:              e.XNome,
		StateRegistration: e.IE,
	}
	fillAddress(&party, e.Ender)
	return party
}

func convertDest(d *nfeDest) *model.Party {
	if d == nil {
		return nil
	}
	party := &model.Party{
		TaxID: firstNonEmpty(d.CNPJ, d.CPF),
		Name:  d.XNome,
	}
	fillAddress(party, d.Ender)
	if party.TaxID == "" && party.Name == "" {
		return nil
	}
	return party
}

func fillAddress(p *model.Party, e *nfeEnder) {
	if e == nil {
		return
	}
	street := e.XLgr
	if e.Nro != "" {
		street = strings.TrimSpace(street + ", " + e.Nro)
	}
	p.Address = street
	p.City = e.XMun
	p.State = e.UF
	p.ZipCode = e.CEP
}

func convertItem(det nfeDet, a *amounts) model.LineItem {
	number, _ := strconv.Atoi(det.NItem)

	item := model.LineItem{
		Number:      number,
		ProductCode: det.Prod.CProd,
		Description: det.Prod.XProd,
		NCM:         det.Prod.NCM,
		CFOP:        det.Prod.CFOP,
		Unit:        det.Prod.UCom,
		Quantity:    a.parse("prod/qCom", det.Prod.QCom),
		UnitPrice:   a.parse("prod/vUnCom", det.Prod.VUnCom),
		Total:       a.parse("prod/vProd", det.Prod.VProd),
	}

	if det.Imposto == nil {
		return item
	}

	if g := det.Imposto.ICMS.group(); g != nil {
		item.ICMS = &model.ICMSTax{
			Origin: g.Orig,
			CST:    firstNonEmpty(g.CST, g.CSOSN),
			Base:   a.parse("ICMS/vBC", g.VBC),
			Rate:   a.parse("ICMS/pICMS", g.PICMS),
			Amount: a.parse("ICMS/vICMS", g.VICMS),
		}
	}

	if pis := det.Imposto.PIS; pis != nil {
		switch {
		case pis.Aliq != nil:
			item.PIS = &model.PISTax{
				CST:    pis.Aliq.CST,
				Base:   a.parse("PIS/vBC", pis.Aliq.VBC),
				Rate:   a.parse("PIS/pPIS", pis.Aliq.PPIS),
				Amount: a.parse("PIS/vPIS", pis.Aliq.VPIS),
			}
		case pis.Outr != nil:
			item.PIS = &model.PISTax{
				CST:    pis.Outr.CST,
				Base:   a.parse("PIS/vBC", pis.Outr.VBC),
				Rate:   a.parse("PIS/pPIS", pis.Outr.PPIS),
				Amount: a.parse("PIS/vPIS", pis.Outr.VPIS),
			}
		case pis.NT != nil:
			item.PIS = &model.PISTax{CST: pis.NT.CST}
		}
	}

	if cof := det.Imposto.COFINS; cof != nil {
		switch {
		case cof.Aliq != nil:
			item.COFINS = &model.COFINSTax{
				CST:    cof.Aliq.CST,
				Base:   a.parse("COFINS/vBC", cof.Aliq.VBC),
				Rate:   a.parse("COFINS/pCOFINS", cof.Aliq.PCOF),
				Amount: a.parse("COFINS/vCOFINS", cof.Aliq.VCOF),
			}
		case cof.Outr != nil:
			item.COFINS = &model.COFINSTax{
				CST:    cof.Outr.CST,
				Base:   a.parse("COFINS/vBC", cof.Outr.VBC),
				Rate:   a.parse("COFINS/pCOFINS", cof.Outr.PCOF),
				Amount: a.parse("COFINS/vCOFINS", cof.Outr.VCOF),
			}
		case cof.NT != nil:
			item.COFINS = &model.COFINSTax{CST: cof.NT.CST}
		}
	}

	return item
}

// stripKeyPrefix drops the non-numeric prefix from the infNFe Id
// attribute ("NFe3520..." becomes "3520...").
func stripKeyPrefix(id string) string {
	return strings.TrimLeftFunc(id, func(r rune) bool {
		return r < '0' || r > '9'
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseIssueDate handles the 4.00 timestamp (dhEmi) and the legacy
// 3.10 date-only field (dEmi).
func parseIssueDate(dhEmi, dEmi string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	}

	for _, s := range []string{dhEmi, dEmi} {
		if strings.TrimSpace(s) == "" {
			continue
		}
		for _, format := range formats {
			if t, err := time.Parse(format, s); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse issue date %q/%q", dhEmi, dEmi)
}
