// Package pdf genera el DANFE (Documento Auxiliar da NF-e), la representación
// gráfica simplificada de una NF-e autorizada.
//
// Layout de la página A4:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  EMITENTE: Razón social + CNPJ/IE │ DANFE + Nº / Série      │
//	│  CHAVE DE ACESSO: código de barras + clave en bloques       │
//	│  PROTOCOLO DE AUTORIZAÇÃO                                    │
//	│  ─────────────────────────────────────────────────────────  │
//	│  DESTINATÁRIO: Nombre + CNPJ/CPF                            │
//	│  ─────────────────────────────────────────────────────────  │
//	│  PRODUTOS: Código | Descrição | NCM | CFOP | Un | Qtd | ... │
//	│  ─────────────────────────────────────────────────────────  │
//	│  CÁLCULO DO IMPOSTO: BC ICMS / ICMS / Produtos / Total NF    │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"context"
	"fmt"
	"strings"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"

	infranfe "github.com/jhoicas/nfe-emissor/internal/infrastructure/nfe"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 0, Green: 0, Blue: 0}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
	colorWarning = &props.Color{Red: 180, Green: 0, Blue: 0}
)

// ── Generator ─────────────────────────────────────────────────────────────────

// DANFEGenerator genera el DANFE con Maroto v2 a partir del XML nfeProc (o NFe).
type DANFEGenerator struct{}

// NewDANFEGenerator construye el generador.
func NewDANFEGenerator() *DANFEGenerator { return &DANFEGenerator{} }

// Generate interpreta el XML y devuelve los bytes del PDF.
func (g *DANFEGenerator) Generate(_ context.Context, xmlBytes []byte) ([]byte, error) {
	n, err := infranfe.ParseNFe(xmlBytes)
	if err != nil {
		return nil, fmt.Errorf("danfe: %w", err)
	}
	return g.Render(n)
}

// Render dibuja el DANFE de un documento ya interpretado.
func (g *DANFEGenerator) Render(n *infranfe.ParsedNFe) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(8).WithRightMargin(8).
		WithTopMargin(8).WithBottomMargin(8).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 8}).
		WithTitle("DANFE "+n.AccessKey.String(), true).
		WithAuthor(n.EmitterName, true).
		Build()

	m := maroto.New(cfg)

	if n.Env == pkgnfe.EnvironmentHomologation {
		m.AddRows(homologationRow())
	}
	m.AddRows(headerRow(n))
	m.AddRows(accessKeyRows(n)...)
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.4}))
	m.AddRows(recipientRow(n))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(itemsHeaderRow())
	m.AddRows(itemRows(n.Items)...)
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(totalsRows(n.Totals)...)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("danfe: generar documento: %w", err)
	}
	return doc.GetBytes(), nil
}

// ── Secciones ─────────────────────────────────────────────────────────────────

func homologationRow() core.Row {
	return row.New(8).Add(col.New(12).Add(
		text.New("SEM VALOR FISCAL - EMITIDA EM AMBIENTE DE HOMOLOGAÇÃO", props.Text{
			Style: fontstyle.Bold, Size: 10, Align: align.Center, Color: colorWarning, Top: 1,
		}),
	))
}

// headerRow: emitente (izq) y número/serie (der).
func headerRow(n *infranfe.ParsedNFe) core.Row {
	return row.New(22).Add(
		col.New(8).Add(
			text.New(n.EmitterName, props.Text{Style: fontstyle.Bold, Size: 12, Top: 1}),
			text.New(nonEmpty(n.EmitterAddr, "-"), props.Text{Size: 7, Top: 8, Color: colorGray}),
			text.New(fmt.Sprintf("CNPJ: %s   IE: %s", formatCNPJ(n.EmitterCNPJ), nonEmpty(n.EmitterIE, "-")),
				props.Text{Size: 7, Top: 14, Color: colorGray}),
		),
		col.New(4).Add(
			text.New("DANFE", props.Text{Style: fontstyle.Bold, Size: 14, Align: align.Right, Top: 1}),
			text.New("Documento Auxiliar da Nota Fiscal Eletrônica", props.Text{Size: 6, Align: align.Right, Top: 8}),
			text.New(fmt.Sprintf("Nº %s  Série %s", groupNumber(n.Number), n.Series),
				props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Top: 12}),
			text.New("Emissão: "+n.EmittedAt, props.Text{Size: 7, Align: align.Right, Top: 17, Color: colorGray}),
		),
	)
}

// accessKeyRows: código de barras CODE-128 de la clave y su texto en bloques de 4.
func accessKeyRows(n *infranfe.ParsedNFe) []core.Row {
	rows := []core.Row{
		row.New(14).Add(col.New(12).Add(code.NewBar(n.AccessKey.String(), props.Barcode{
			Percent: 90, Center: true,
		}))),
		row.New(8).Add(col.New(12).Add(
			text.New("CHAVE DE ACESSO", props.Text{Style: fontstyle.Bold, Size: 6, Top: 0.5}),
			text.New(FormatAccessKey(n.AccessKey.String()), props.Text{Size: 9, Align: align.Center, Top: 3}),
		)),
	}
	protocol := "-"
	if n.Protocol != "" {
		protocol = n.Protocol + " - " + n.AuthorizedAt
	}
	rows = append(rows, row.New(7).Add(col.New(12).Add(
		text.New("PROTOCOLO DE AUTORIZAÇÃO DE USO", props.Text{Style: fontstyle.Bold, Size: 6, Top: 0.5}),
		text.New(protocol, props.Text{Size: 8, Top: 3}),
	)))
	return rows
}

func recipientRow(n *infranfe.ParsedNFe) core.Row {
	return row.New(12).Add(
		col.New(12).Add(
			text.New("DESTINATÁRIO / REMETENTE", props.Text{Style: fontstyle.Bold, Size: 7, Top: 1}),
			text.New(n.RecipientName, props.Text{Style: fontstyle.Bold, Size: 9, Top: 5}),
			text.New("CNPJ/CPF: "+formatTaxID(n.RecipientID), props.Text{Size: 7, Top: 9, Color: colorGray}),
		),
	)
}

var itemColumns = []struct {
	label string
	size  int
	align align.Type
}{
	{"Código", 1, align.Left},
	{"Descrição", 4, align.Left},
	{"NCM", 1, align.Center},
	{"CFOP", 1, align.Center},
	{"Un", 1, align.Center},
	{"Qtd", 1, align.Right},
	{"V. Unit", 1, align.Right},
	{"V. Total", 1, align.Right},
	{"ICMS", 1, align.Right},
}

func itemsHeaderRow() core.Row {
	cols := make([]core.Col, 0, len(itemColumns))
	for _, c := range itemColumns {
		cols = append(cols, col.New(c.size).Add(text.New(c.label, props.Text{
			Style: fontstyle.Bold, Size: 7, Align: c.align, Top: 1,
		})))
	}
	return row.New(6).Add(cols...)
}

func itemRows(items []infranfe.ParsedItem) []core.Row {
	rows := make([]core.Row, 0, len(items))
	for _, it := range items {
		values := []string{
			it.Code,
			it.Description,
			it.NCM,
			it.CFOP,
			it.Unit,
			formatBRL(it.Quantity, 4),
			formatBRL(it.UnitValue, 2),
			formatBRL(it.Total, 2),
			formatBRL(it.ICMS, 2),
		}
		cols := make([]core.Col, 0, len(values))
		for i, v := range values {
			c := itemColumns[i]
			cols = append(cols, col.New(c.size).Add(text.New(v, props.Text{Size: 7, Align: c.align, Top: 1})))
		}
		rows = append(rows, row.New(5).Add(cols...))
	}
	return rows
}

// totalsRows: bloque "Cálculo do imposto".
func totalsRows(t infranfe.ParsedTotals) []core.Row {
	cell := func(label string, v decimal.Decimal, size int, bold bool) core.Col {
		style := fontstyle.Normal
		if bold {
			style = fontstyle.Bold
		}
		return col.New(size).Add(
			text.New(label, props.Text{Size: 6, Top: 0.5, Color: colorGray}),
			text.New(formatBRL(v, 2), props.Text{Style: style, Size: 9, Align: align.Right, Top: 3, Right: 1}),
		)
	}
	return []core.Row{
		row.New(6).Add(col.New(12).Add(
			text.New("CÁLCULO DO IMPOSTO", props.Text{Style: fontstyle.Bold, Size: 7, Top: 1}),
		)),
		row.New(9).Add(
			cell("BASE DE CÁLCULO DO ICMS", t.ICMSBasis, 3, false),
			cell("VALOR DO ICMS", t.ICMS, 3, false),
			cell("VALOR DO PIS", t.PIS, 3, false),
			cell("VALOR DA COFINS", t.COFINS, 3, false),
		),
		row.New(9).Add(
			cell("VALOR TOTAL DOS PRODUTOS", t.Products, 2, false),
			cell("VALOR DO FRETE", t.Freight, 2, false),
			cell("VALOR DO SEGURO", t.Insurance, 2, false),
			cell("DESCONTO", t.Discount, 2, false),
			cell("OUTRAS DESPESAS", t.Other, 2, false),
			cell("VALOR TOTAL DA NOTA", t.Document, 2, true),
		),
	}
}

// ── helpers ───────────────────────────────────────────────────────────────────

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// FormatAccessKey separa la clave en 11 bloques de 4 dígitos.
func FormatAccessKey(key string) string {
	return strings.Join(splitEvery(key, 4), " ")
}

// formatBRL formatea con coma decimal y punto de miles: 1234.5 → "1.234,50".
func formatBRL(d decimal.Decimal, places int32) string {
	s := d.StringFixed(places)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")
	out := groupThousands(intPart)
	if frac != "" {
		out += "," + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	buf := make([]byte, 0, n+n/3)
	for i, c := range []byte(s) {
		if i > 0 && (n-i)%3 == 0 {
			buf = append(buf, '.')
		}
		buf = append(buf, c)
	}
	return string(buf)
}

// groupNumber nNF con 9 dígitos en bloques: 42 → "000.000.042".
func groupNumber(n string) string {
	if len(n) < 9 {
		n = strings.Repeat("0", 9-len(n)) + n
	}
	return groupThousands(n)
}

func formatCNPJ(s string) string {
	if len(s) != 14 {
		return s
	}
	return s[0:2] + "." + s[2:5] + "." + s[5:8] + "/" + s[8:12] + "-" + s[12:14]
}

func formatTaxID(s string) string {
	if len(s) == 11 {
		return s[0:3] + "." + s[3:6] + "." + s[6:9] + "-" + s[9:11]
	}
	return formatCNPJ(s)
}

// splitEvery divide s en trozos de max n caracteres.
func splitEvery(s string, n int) []string {
	var parts []string
	for len(s) > n {
		parts = append(parts, s[:n])
		s = s[n:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}
