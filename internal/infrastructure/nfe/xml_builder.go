// Package nfe implementa la serialización XML de la NF-e (leiaute 4.00), el
// nfeProc de distribución y el canal SOAP con los web services de la SEFAZ.
package nfe

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	nfedomain "github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

const dateTimeLayout = "2006-01-02T15:04:05-07:00"

// XMLBuilderService construye el XML <NFe> sin firma. La salida no lleva espacios
// entre etiquetas: la SEFAZ la rechaza y la firma se calcula sobre estos bytes.
type XMLBuilderService struct{}

// NewXMLBuilderService crea el servicio.
func NewXMLBuilderService() *XMLBuilderService {
	return &XMLBuilderService{}
}

// Build genera el []byte de <NFe><infNFe>...</infNFe></NFe> en el orden del leiaute.
func (s *XMLBuilderService) Build(fd *nfedomain.FiscalDocument) ([]byte, error) {
	if fd == nil || fd.Doc == nil {
		return nil, fmt.Errorf("nfe: documento vacío")
	}
	if !fd.AccessKey.Valid() {
		return nil, fmt.Errorf("%w: %q", pkgnfe.ErrInvalidAccessKey, fd.AccessKey)
	}
	doc := fd.Doc

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)

	root := xml.StartElement{
		Name: xml.Name{Local: "NFe"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: pkgnfe.NamespaceNFe}},
	}
	if err := enc.EncodeToken(root); err != nil {
		return nil, err
	}
	inf := xml.StartElement{
		Name: xml.Name{Local: "infNFe"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "Id"}, Value: fd.AccessKey.ID()},
			{Name: xml.Name{Local: "versao"}, Value: pkgnfe.LayoutVersion},
		},
	}
	if err := enc.EncodeToken(inf); err != nil {
		return nil, err
	}

	writeIde(enc, doc.Identification)
	writeEmit(enc, doc.Emitter)
	writeDest(enc, doc.Recipient)
	for _, it := range doc.Items {
		writeDet(enc, it)
	}
	writeTotal(enc, doc.Totals)
	writeTransp(enc, doc.Transport)
	writePag(enc, doc.Payment)
	if doc.Additional != nil && doc.Additional.Complementary != "" {
		openTag(enc, "infAdic")
		writeTag(enc, "infCpl", doc.Additional.Complementary)
		closeTag(enc, "infAdic")
	}

	if err := enc.EncodeToken(inf.End()); err != nil {
		return nil, err
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeIde(enc *xml.Encoder, ide nfedomain.Identification) {
	openTag(enc, "ide")
	writeTag(enc, "cUF", ide.UFCode)
	writeTag(enc, "cNF", ide.ControlCode)
	writeTag(enc, "natOp", ide.OperationNature)
	writeTag(enc, "mod", ide.Model)
	writeTag(enc, "serie", ide.Series)
	writeTag(enc, "nNF", ide.Number)
	writeTag(enc, "dhEmi", ide.EmittedAt.Format(dateTimeLayout))
	writeTag(enc, "tpNF", ide.OperationType)
	writeTag(enc, "idDest", ide.Destination)
	writeTag(enc, "cMunFG", ide.CityCode)
	writeTag(enc, "tpImp", ide.PrintFormat)
	writeTag(enc, "tpEmis", ide.EmissionType)
	writeTag(enc, "cDV", ide.CheckDigit)
	writeTag(enc, "tpAmb", ide.Environment)
	writeTag(enc, "finNFe", ide.Purpose)
	writeTag(enc, "indFinal", ide.FinalConsumer)
	writeTag(enc, "indPres", ide.Presence)
	writeTag(enc, "indIntermed", "0")
	writeTag(enc, "procEmi", ide.Process)
	writeTag(enc, "verProc", ide.ProcessVersion)
	closeTag(enc, "ide")
}

func writeAddress(enc *xml.Encoder, local string, a nfedomain.Address) {
	openTag(enc, local)
	writeTag(enc, "xLgr", a.Street)
	writeTag(enc, "nro", a.Number)
	writeOptional(enc, "xCpl", a.Complement)
	writeTag(enc, "xBairro", a.District)
	writeTag(enc, "cMun", a.CityCode)
	writeTag(enc, "xMun", a.CityName)
	writeTag(enc, "UF", a.UF)
	writeOptional(enc, "CEP", a.ZipCode)
	writeOptional(enc, "cPais", a.CountryCode)
	writeOptional(enc, "xPais", a.CountryName)
	writeOptional(enc, "fone", a.Phone)
	closeTag(enc, local)
}

func writeEmit(enc *xml.Encoder, e nfedomain.Emitter) {
	openTag(enc, "emit")
	writeTag(enc, "CNPJ", e.CNPJ)
	writeTag(enc, "xNome", e.Name)
	writeOptional(enc, "xFant", e.TradeName)
	writeAddress(enc, "enderEmit", e.Address)
	writeTag(enc, "IE", e.StateRegistration)
	writeTag(enc, "CRT", e.Regime)
	closeTag(enc, "emit")
}

func writeDest(enc *xml.Encoder, d nfedomain.Recipient) {
	openTag(enc, "dest")
	if d.CNPJ != "" {
		writeTag(enc, "CNPJ", d.CNPJ)
	} else {
		writeTag(enc, "CPF", d.CPF)
	}
	writeTag(enc, "xNome", d.Name)
	if d.Address != nil {
		writeAddress(enc, "enderDest", *d.Address)
	}
	writeTag(enc, "indIEDest", d.IEIndicator)
	writeOptional(enc, "IE", d.StateRegistration)
	writeOptional(enc, "email", d.Email)
	closeTag(enc, "dest")
}

func writeDet(enc *xml.Encoder, it nfedomain.Item) {
	_ = enc.EncodeToken(xml.StartElement{
		Name: xml.Name{Local: "det"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "nItem"}, Value: strconv.Itoa(it.Number)}},
	})
	p := it.Product
	openTag(enc, "prod")
	writeTag(enc, "cProd", p.Code)
	writeTag(enc, "cEAN", p.Barcode)
	writeTag(enc, "xProd", p.Description)
	writeTag(enc, "NCM", p.NCM)
	writeTag(enc, "CFOP", p.CFOP)
	writeTag(enc, "uCom", p.CommercialUnit)
	writeTag(enc, "qCom", formatQuantity(p.CommercialQuantity))
	writeTag(enc, "vUnCom", formatUnitValue(p.UnitValue))
	writeTag(enc, "vProd", formatDecimal(p.GrossValue))
	writeTag(enc, "cEANTrib", p.TaxableBarcode)
	writeTag(enc, "uTrib", p.TaxableUnit)
	writeTag(enc, "qTrib", formatQuantity(p.TaxableQuantity))
	writeTag(enc, "vUnTrib", formatUnitValue(p.TaxableUnitValue))
	writePositive(enc, "vFrete", p.Freight)
	writePositive(enc, "vSeg", p.Insurance)
	writePositive(enc, "vDesc", p.Discount)
	writePositive(enc, "vOutro", p.Other)
	writeTag(enc, "indTot", p.ComposesTotal)
	closeTag(enc, "prod")

	openTag(enc, "imposto")
	writeICMS(enc, it.Taxes.ICMS)
	writeContribution(enc, "PIS", it.Taxes.PIS)
	writeContribution(enc, "COFINS", it.Taxes.COFINS)
	closeTag(enc, "imposto")
	closeTag(enc, "det")
}

// writeICMS grupo ICMS según el CST. Los códigos no tributados (o desconocidos)
// llevan solo orig y CST; los CSOSN de Simples Nacional, orig y CSOSN.
func writeICMS(enc *xml.Encoder, tc nfedomain.TaxComputation) {
	openTag(enc, "ICMS")
	group := icmsGroup(tc)
	openTag(enc, group)
	writeTag(enc, "orig", tc.Origin)
	if tc.IsSimples() {
		writeTag(enc, "CSOSN", tc.Code)
		closeTag(enc, group)
		closeTag(enc, "ICMS")
		return
	}
	writeTag(enc, "CST", tc.Code)
	if tc.Taxed {
		writeTag(enc, "modBC", pkgnfe.ICMSBasisModeValue)
		if pkgnfe.ICMSReducedBaseCodes[tc.Code] {
			writeTag(enc, "pRedBC", formatRate(tc.BaseReduction))
		}
		writeTag(enc, "vBC", formatDecimal(tc.Basis))
		writeTag(enc, "pICMS", formatRate(tc.Rate))
		writeTag(enc, "vICMS", formatDecimal(tc.Amount))
		if tc.Code == "10" || tc.Code == "70" {
			writeTag(enc, "modBCST", "4")
			writeTag(enc, "vBCST", formatDecimal(decimal.Zero))
			writeTag(enc, "pICMSST", formatRate(decimal.Zero))
			writeTag(enc, "vICMSST", formatDecimal(decimal.Zero))
		}
	}
	closeTag(enc, group)
	closeTag(enc, "ICMS")
}

func icmsGroup(tc nfedomain.TaxComputation) string {
	if tc.IsSimples() {
		switch tc.Code {
		case "102", "103", "300", "400":
			return "ICMSSN102"
		case "500":
			return "ICMSSN500"
		default:
			return "ICMSSN900"
		}
	}
	if g, ok := pkgnfe.ICMSGroupByCST[tc.Code]; ok {
		return g
	}
	return "ICMS90"
}

// writeContribution grupo PIS / COFINS: <kind>Aliq cuando tributa, <kind>NT con solo el CST si no.
func writeContribution(enc *xml.Encoder, kind string, tc nfedomain.TaxComputation) {
	openTag(enc, kind)
	if tc.Taxed {
		openTag(enc, kind+"Aliq")
		writeTag(enc, "CST", tc.Code)
		writeTag(enc, "vBC", formatDecimal(tc.Basis))
		writeTag(enc, "p"+kind, formatRate(tc.Rate))
		writeTag(enc, "v"+kind, formatDecimal(tc.Amount))
		closeTag(enc, kind+"Aliq")
	} else {
		openTag(enc, kind+"NT")
		writeTag(enc, "CST", tc.Code)
		closeTag(enc, kind+"NT")
	}
	closeTag(enc, kind)
}

func writeTotal(enc *xml.Encoder, t nfedomain.Totals) {
	zero := formatDecimal(decimal.Zero)
	openTag(enc, "total")
	openTag(enc, "ICMSTot")
	writeTag(enc, "vBC", formatDecimal(t.ICMSBasis))
	writeTag(enc, "vICMS", formatDecimal(t.ICMS))
	writeTag(enc, "vICMSDeson", zero)
	writeTag(enc, "vFCP", zero)
	writeTag(enc, "vBCST", zero)
	writeTag(enc, "vST", zero)
	writeTag(enc, "vFCPST", zero)
	writeTag(enc, "vFCPSTRet", zero)
	writeTag(enc, "vProd", formatDecimal(t.Products))
	writeTag(enc, "vFrete", formatDecimal(t.Freight))
	writeTag(enc, "vSeg", formatDecimal(t.Insurance))
	writeTag(enc, "vDesc", formatDecimal(t.Discount))
	writeTag(enc, "vII", zero)
	writeTag(enc, "vIPI", zero)
	writeTag(enc, "vIPIDevol", zero)
	writeTag(enc, "vPIS", formatDecimal(t.PIS))
	writeTag(enc, "vCOFINS", formatDecimal(t.COFINS))
	writeTag(enc, "vOutro", formatDecimal(t.Other))
	writeTag(enc, "vNF", formatDecimal(t.Document))
	writePositive(enc, "vTotTrib", t.TaxBurden)
	closeTag(enc, "ICMSTot")
	closeTag(enc, "total")
}

func writeTransp(enc *xml.Encoder, t nfedomain.Transport) {
	openTag(enc, "transp")
	writeTag(enc, "modFrete", t.Mode)
	if t.CarrierCNPJ != "" || t.CarrierCPF != "" || t.CarrierName != "" {
		openTag(enc, "transporta")
		writeOptional(enc, "CNPJ", t.CarrierCNPJ)
		writeOptional(enc, "CPF", t.CarrierCPF)
		writeOptional(enc, "xNome", t.CarrierName)
		writeOptional(enc, "UF", t.CarrierUF)
		closeTag(enc, "transporta")
	}
	closeTag(enc, "transp")
}

func writePag(enc *xml.Encoder, p nfedomain.Payment) {
	openTag(enc, "pag")
	for _, d := range p.Details {
		openTag(enc, "detPag")
		writeTag(enc, "tPag", d.Method)
		writeTag(enc, "vPag", formatDecimal(d.Amount))
		closeTag(enc, "detPag")
	}
	writePositive(enc, "vTroco", p.Change)
	closeTag(enc, "pag")
}

// ── helpers privados ──────────────────────────────────────────────────────────

func openTag(enc *xml.Encoder, local string) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: local}})
}

func closeTag(enc *xml.Encoder, local string) {
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: local}})
}

func writeTag(enc *xml.Encoder, local, value string) {
	openTag(enc, local)
	_ = enc.EncodeToken(xml.CharData(value))
	closeTag(enc, local)
}

func writeOptional(enc *xml.Encoder, local, value string) {
	if value != "" {
		writeTag(enc, local, value)
	}
}

func writePositive(enc *xml.Encoder, local string, d decimal.Decimal) {
	if d.IsPositive() {
		writeTag(enc, local, formatDecimal(d))
	}
}

func formatDecimal(d decimal.Decimal) string {
	return d.RoundBank(2).StringFixed(2)
}

func formatQuantity(d decimal.Decimal) string {
	return d.StringFixed(4)
}

func formatUnitValue(d decimal.Decimal) string {
	return d.StringFixed(10)
}

func formatRate(d decimal.Decimal) string {
	return d.StringFixed(4)
}
