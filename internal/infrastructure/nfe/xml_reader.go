package nfe

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// ParsedNFe datos extraídos de un XML <NFe> o <nfeProc> ya emitido: clave,
// partes, ítems, totales y protocolo. Lo usan el DANFE y las verificaciones.
type ParsedNFe struct {
	AccessKey pkgnfe.AccessKey
	Series    string
	Number    string
	EmittedAt string
	Env       string

	EmitterCNPJ string
	EmitterName string
	EmitterIE   string
	EmitterAddr string

	RecipientID   string
	RecipientName string

	Items  []ParsedItem
	Totals ParsedTotals

	Protocol     string
	AuthorizedAt string
}

// ParsedItem línea del documento.
type ParsedItem struct {
	Number      int
	Code        string
	Description string
	NCM         string
	CFOP        string
	Unit        string
	Quantity    decimal.Decimal
	UnitValue   decimal.Decimal
	Total       decimal.Decimal
	Discount    decimal.Decimal
	ICMS        decimal.Decimal
	PIS         decimal.Decimal
	COFINS      decimal.Decimal
}

// ParsedTotals grupo ICMSTot.
type ParsedTotals struct {
	ICMSBasis decimal.Decimal
	ICMS      decimal.Decimal
	Products  decimal.Decimal
	Freight   decimal.Decimal
	Insurance decimal.Decimal
	Discount  decimal.Decimal
	PIS       decimal.Decimal
	COFINS    decimal.Decimal
	Other     decimal.Decimal
	Document  decimal.Decimal
}

// estructuras de lectura; solo los campos que se consumen.
type xmlInfNFe struct {
	ID  string `xml:"Id,attr"`
	Ide struct {
		Serie string `xml:"serie"`
		NNF   string `xml:"nNF"`
		DhEmi string `xml:"dhEmi"`
		TpAmb string `xml:"tpAmb"`
	} `xml:"ide"`
	Emit struct {
		CNPJ  string `xml:"CNPJ"`
		XNome string `xml:"xNome"`
		IE    string `xml:"IE"`
		Ender struct {
			XLgr    string `xml:"xLgr"`
			Nro     string `xml:"nro"`
			XBairro string `xml:"xBairro"`
			XMun    string `xml:"xMun"`
			UF      string `xml:"UF"`
		} `xml:"enderEmit"`
	} `xml:"emit"`
	Dest struct {
		CNPJ  string `xml:"CNPJ"`
		CPF   string `xml:"CPF"`
		XNome string `xml:"xNome"`
	} `xml:"dest"`
	Det []struct {
		NItem int `xml:"nItem,attr"`
		Prod  struct {
			CProd  string `xml:"cProd"`
			XProd  string `xml:"xProd"`
			NCM    string `xml:"NCM"`
			CFOP   string `xml:"CFOP"`
			UCom   string `xml:"uCom"`
			QCom   string `xml:"qCom"`
			VUnCom string `xml:"vUnCom"`
			VProd  string `xml:"vProd"`
			VDesc  string `xml:"vDesc"`
		} `xml:"prod"`
		Imposto struct {
			ICMS struct {
				Inner []struct {
					VICMS string `xml:"vICMS"`
				} `xml:",any"`
			} `xml:"ICMS"`
			PIS struct {
				Inner []struct {
					VPIS string `xml:"vPIS"`
				} `xml:",any"`
			} `xml:"PIS"`
			COFINS struct {
				Inner []struct {
					VCOFINS string `xml:"vCOFINS"`
				} `xml:",any"`
			} `xml:"COFINS"`
		} `xml:"imposto"`
	} `xml:"det"`
	Total struct {
		ICMSTot struct {
			VBC     string `xml:"vBC"`
			VICMS   string `xml:"vICMS"`
			VProd   string `xml:"vProd"`
			VFrete  string `xml:"vFrete"`
			VSeg    string `xml:"vSeg"`
			VDesc   string `xml:"vDesc"`
			VPIS    string `xml:"vPIS"`
			VCOFINS string `xml:"vCOFINS"`
			VOutro  string `xml:"vOutro"`
			VNF     string `xml:"vNF"`
		} `xml:"ICMSTot"`
	} `xml:"total"`
}

type xmlNFe struct {
	InfNFe xmlInfNFe `xml:"infNFe"`
}

type xmlProtNFe struct {
	InfProt struct {
		ChNFe    string `xml:"chNFe"`
		DhRecbto string `xml:"dhRecbto"`
		NProt    string `xml:"nProt"`
		CStat    string `xml:"cStat"`
		XMotivo  string `xml:"xMotivo"`
	} `xml:"infProt"`
}

type xmlNFeProc struct {
	NFe     xmlNFe     `xml:"NFe"`
	ProtNFe xmlProtNFe `xml:"protNFe"`
}

// ParseNFe lee un <NFe> (firmado o no) o un <nfeProc>.
func ParseNFe(data []byte) (*ParsedNFe, error) {
	root, err := rootElement(data)
	if err != nil {
		return nil, err
	}
	var inf xmlInfNFe
	var prot xmlProtNFe
	switch root {
	case "nfeProc":
		var proc xmlNFeProc
		if err := xml.Unmarshal(data, &proc); err != nil {
			return nil, fmt.Errorf("nfe: leer nfeProc: %w", err)
		}
		inf, prot = proc.NFe.InfNFe, proc.ProtNFe
	case "NFe":
		var n xmlNFe
		if err := xml.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("nfe: leer NFe: %w", err)
		}
		inf = n.InfNFe
	default:
		return nil, fmt.Errorf("nfe: raíz inesperada <%s>", root)
	}

	key, err := pkgnfe.ParseAccessKey(inf.ID)
	if err != nil {
		return nil, err
	}
	out := &ParsedNFe{
		AccessKey:     key,
		Series:        inf.Ide.Serie,
		Number:        inf.Ide.NNF,
		EmittedAt:     inf.Ide.DhEmi,
		Env:           inf.Ide.TpAmb,
		EmitterCNPJ:   inf.Emit.CNPJ,
		EmitterName:   inf.Emit.XNome,
		EmitterIE:     inf.Emit.IE,
		EmitterAddr:   joinNonEmpty(", ", inf.Emit.Ender.XLgr+" "+inf.Emit.Ender.Nro, inf.Emit.Ender.XBairro, inf.Emit.Ender.XMun+"/"+inf.Emit.Ender.UF),
		RecipientName: inf.Dest.XNome,
		Protocol:      prot.InfProt.NProt,
		AuthorizedAt:  prot.InfProt.DhRecbto,
	}
	out.RecipientID = inf.Dest.CNPJ
	if out.RecipientID == "" {
		out.RecipientID = inf.Dest.CPF
	}
	var dr decimalReader
	for _, d := range inf.Det {
		it := ParsedItem{
			Number:      d.NItem,
			Code:        d.Prod.CProd,
			Description: d.Prod.XProd,
			NCM:         d.Prod.NCM,
			CFOP:        d.Prod.CFOP,
			Unit:        d.Prod.UCom,
			Quantity:    dr.parse("qCom", d.Prod.QCom),
			UnitValue:   dr.parse("vUnCom", d.Prod.VUnCom),
			Total:       dr.parse("vProd", d.Prod.VProd),
			Discount:    dr.parse("vDesc", d.Prod.VDesc),
		}
		for _, g := range d.Imposto.ICMS.Inner {
			it.ICMS = it.ICMS.Add(dr.parse("vICMS", g.VICMS))
		}
		for _, g := range d.Imposto.PIS.Inner {
			it.PIS = it.PIS.Add(dr.parse("vPIS", g.VPIS))
		}
		for _, g := range d.Imposto.COFINS.Inner {
			it.COFINS = it.COFINS.Add(dr.parse("vCOFINS", g.VCOFINS))
		}
		if dr.err != nil {
			return nil, fmt.Errorf("nfe: ítem %d: %w", d.NItem, dr.err)
		}
		out.Items = append(out.Items, it)
	}
	t := inf.Total.ICMSTot
	out.Totals = ParsedTotals{
		ICMSBasis: dr.parse("vBC", t.VBC),
		ICMS:      dr.parse("vICMS", t.VICMS),
		Products:  dr.parse("vProd", t.VProd),
		Freight:   dr.parse("vFrete", t.VFrete),
		Insurance: dr.parse("vSeg", t.VSeg),
		Discount:  dr.parse("vDesc", t.VDesc),
		PIS:       dr.parse("vPIS", t.VPIS),
		COFINS:    dr.parse("vCOFINS", t.VCOFINS),
		Other:     dr.parse("vOutro", t.VOutro),
		Document:  dr.parse("vNF", t.VNF),
	}
	if dr.err != nil {
		return nil, fmt.Errorf("nfe: ICMSTot: %w", dr.err)
	}
	return out, nil
}

func rootElement(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("nfe: XML sin elemento raíz: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}

// decimalReader convierte valores del XML y conserva el primer error.
// Una etiqueta opcional ausente vale cero; un valor presente y mal formado es error.
type decimalReader struct {
	err error
}

func (r *decimalReader) parse(tag, s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("<%s> con valor inválido %q: %w", tag, s, err)
		}
		return decimal.Zero
	}
	return d
}

func joinNonEmpty(sep string, parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.Trim(strings.TrimSpace(p), "/"); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
