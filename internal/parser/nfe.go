package parser

import "encoding/xml"

// XML layouts for NFe/NFCe documents. Field types stay as strings here;
// conversion to the normalized model happens in one place so numeric
// locale handling is uniform.

// nfeProc is the authorized-document wrapper: the NFe plus the fiscal
// authority's protocol response.
type nfeProc struct {
	XMLName xml.Name `xml:"nfeProc"`
	Versao  string   `xml:"versao,attr"`
	NFe     nfeDoc   `xml:"NFe"`
	Prot    *protNFe `xml:"protNFe"`
}

type protNFe struct {
	InfProt struct {
		ChNFe    string `xml:"chNFe"`
		CStat    string `xml:"cStat"`
		XMotivo  string `xml:"xMotivo"`
		NProt    string `xml:"nProt"`
		DhRecbto string `xml:"dhRecbto"`
	} `xml:"infProt"`
}

type nfeDoc struct {
	XMLName   xml.Name      `xml:"NFe"`
	InfNFe    *infNFe       `xml:"infNFe"`
	Signature *xmlSignature `xml:"Signature"`
}

// xmlSignature only records presence; cryptographic verification lives
// behind the validator interface.
type xmlSignature struct {
	SignatureValue string `xml:"SignatureValue"`
}

type infNFe struct {
	ID     string    `xml:"Id,attr"`
	Versao string    `xml:"versao,attr"`
	Ide    nfeIde    `xml:"ide"`
	Emit   nfeEmit   `xml:"emit"`
	Dest   *nfeDest  `xml:"dest"`
	Det    []nfeDet  `xml:"det"`
	Total  nfeTotal  `xml:"total"`
	Pag    *nfePag   `xml:"pag"`
}

type nfeIde struct {
	CUF   string `xml:"cUF"`
	NatOp string `xml:"natOp"`
	Mod   string `xml:"mod"`
	Serie string `xml:"serie"`
	NNF   string `xml:"nNF"`
	// DhEmi is the 4.00 issue timestamp; 3.10 documents carry DEmi.
	DhEmi string `xml:"dhEmi"`
	DEmi  string `xml:"dEmi"`
	TpNF  string `xml:"tpNF"`
}

type nfeEmit struct {
	CNPJ  string    `xml:"CNPJ"`
	CPF   string    `xml:"CPF"`
	XNome string    `xml:"xNome"`
	IE    string    `xml:"IE"`
	Ender *nfeEnder `xml:"enderEmit"`
}

type nfeDest struct {
	CNPJ  string    `xml:"CNPJ"`
	CPF   string    `xml:"CPF"`
	XNome string    `xml:"xNome"`
	Ender *nfeEnder `xml:"enderDest"`
}

type nfeEnder struct {
	XLgr string `xml:"xLgr"`
	Nro  string `xml:"nro"`
	XMun string `xml:"xMun"`
	UF   string `xml:"UF"`
	CEP  string `xml:"CEP"`
}

type nfeDet struct {
	NItem   string     `xml:"nItem,attr"`
	Prod    nfeProd    `xml:"prod"`
	Imposto *nfeTaxes  `xml:"imposto"`
}

type nfeProd struct {
	CProd  string `xml:"cProd"`
	XProd  string `xml:"xProd"`
	NCM    string `xml:"NCM"`
	CFOP   string `xml:"CFOP"`
	UCom   string `xml:"uCom"`
	QCom   string `xml:"qCom"`
	VUnCom string `xml:"vUnCom"`
	VProd  string `xml:"vProd"`
}

type nfeTaxes struct {
	ICMS   *nfeICMS   `xml:"ICMS"`
	PIS    *nfePIS    `xml:"PIS"`
	COFINS *nfeCOFINS `xml:"COFINS"`
}

// nfeICMS holds one of the mutually-exclusive situation groups. Which
// group is present depends on the tax situation code of the line.
type nfeICMS struct {
	ICMS00    *nfeICMSGroup `xml:"ICMS00"`
	ICMS10    *nfeICMSGroup `xml:"ICMS10"`
	ICMS20    *nfeICMSGroup `xml:"ICMS20"`
	ICMS40    *nfeICMSGroup `xml:"ICMS40"`
	ICMS51    *nfeICMSGroup `xml:"ICMS51"`
	ICMS60    *nfeICMSGroup `xml:"ICMS60"`
	ICMS70    *nfeICMSGroup `xml:"ICMS70"`
	ICMS90    *nfeICMSGroup `xml:"ICMS90"`
	ICMSSN102 *nfeICMSGroup `xml:"ICMSSN102"`
	ICMSSN500 *nfeICMSGroup `xml:"ICMSSN500"`
}

// group returns whichever situation group is present.
func (i *nfeICMS) group() *nfeICMSGroup {
	if i == nil {
		return nil
	}
	for _, g := range []*nfeICMSGroup{
		i.ICMS00, i.ICMS10, i.ICMS20, i.ICMS40, i.ICMS51,
		i.ICMS60, i.ICMS70, i.ICMS90, i.ICMSSN102, i.ICMSSN500,
	} {
		if g != nil {
			return g
		}
	}
	return nil
}

type nfeICMSGroup struct {
	Orig  string `xml:"orig"`
	CST   string `xml:"CST"`
	CSOSN string `xml:"CSOSN"`
	VBC   string `xml:"vBC"`
	PICMS string `xml:"pICMS"`
	VICMS string `xml:"vICMS"`
}

type nfePIS struct {
	Aliq *nfeFederalGroup `xml:"PISAliq"`
	NT   *nfeFederalNT    `xml:"PISNT"`
	Outr *nfeFederalOutr  `xml:"PISOutr"`
}

type nfeCOFINS struct {
	Aliq *nfeFederalGroup `xml:"COFINSAliq"`
	NT   *nfeFederalNT    `xml:"COFINSNT"`
	Outr *nfeFederalOutr  `xml:"COFINSOutr"`
}

type nfeFederalGroup struct {
	CST  string `xml:"CST"`
	VBC  string `xml:"vBC"`
	PPIS string `xml:"pPIS"`
	PCOF string `xml:"pCOFINS"`
	VPIS string `xml:"vPIS"`
	VCOF string `xml:"vCOFINS"`
}

type nfeFederalNT struct {
	CST string `xml:"CST"`
}

type nfeFederalOutr struct {
	CST  string `xml:"CST"`
	VBC  string `xml:"vBC"`
	PPIS string `xml:"pPIS"`
	PCOF string `xml:"pCOFINS"`
	VPIS string `xml:"vPIS"`
	VCOF string `xml:"vCOFINS"`
}

type nfeTotal struct {
	ICMSTot struct {
		VBC    string `xml:"vBC"`
		VICMS  string `xml:"vICMS"`
		VProd  string `xml:"vProd"`
		VDesc  string `xml:"vDesc"`
		VPIS   string `xml:"vPIS"`
		VCOF   string `xml:"vCOFINS"`
		VNF    string `xml:"vNF"`
	} `xml:"ICMSTot"`
}

type nfePag struct {
	DetPag []nfeDetPag `xml:"detPag"`
}

type nfeDetPag struct {
	TPag string `xml:"tPag"`
	VPag string `xml:"vPag"`
}
