package nfe_test

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	nfedomain "github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	infranfe "github.com/jhoicas/nfe-emissor/internal/infrastructure/nfe"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

var testNow = time.Date(2025, 5, 12, 10, 30, 0, 0, time.FixedZone("BRT", -3*3600))

func TestBuild_OrdenDeSecciones(t *testing.T) {
	fd := composeTestDocument(t)

	out, err := infranfe.NewXMLBuilderService().Build(fd)
	require.NoError(t, err)
	x := string(out)

	assert.True(t, strings.HasPrefix(x, `<NFe xmlns="http://www.portalfiscal.inf.br/nfe"><infNFe Id="NFe`+fd.AccessKey.String()+`" versao="4.00">`))
	assert.NotContains(t, x, ">\n", "sin espacios entre etiquetas")

	order := []string{"<ide>", "<emit>", "<dest>", `<det nItem="1">`, `<det nItem="2">`, "<total>", "<transp>", "<pag>", "<infAdic>"}
	assertOrder(t, x, order)
	assertOrder(t, x, []string{"<prod>", "<imposto>", "<ICMS>", "<PIS>", "<COFINS>"})
	assertOrder(t, x, []string{"<cUF>35</cUF>", "<cNF>", "<natOp>", "<mod>55</mod>", "<serie>1</serie>", "<nNF>42</nNF>", "<dhEmi>2025-05-12T10:30:00-03:00</dhEmi>", "<cDV>", "<tpAmb>2</tpAmb>"})
}

func TestBuild_GruposDeImpuesto(t *testing.T) {
	fd := composeTestDocument(t)

	out, err := infranfe.NewXMLBuilderService().Build(fd)
	require.NoError(t, err)
	x := string(out)

	assert.Contains(t, x, "<ICMS><ICMS00><orig>0</orig><CST>00</CST><modBC>3</modBC><vBC>25.00</vBC><pICMS>18.0000</pICMS><vICMS>4.50</vICMS></ICMS00></ICMS>")
	assert.Contains(t, x, "<PIS><PISAliq><CST>01</CST><vBC>25.00</vBC><pPIS>1.6500</pPIS><vPIS>0.41</vPIS></PISAliq></PIS>")
	// ítem 2 con CST 40: solo orig y CST, sin base, alícuota ni valor.
	assert.Contains(t, x, "<ICMS><ICMS40><orig>0</orig><CST>40</CST></ICMS40></ICMS>")
	assert.Contains(t, x, "<COFINS><COFINSNT><CST>07</CST></COFINSNT></COFINS>")
}

func TestBuild_ICMS20ConReduccion(t *testing.T) {
	sale := buildTestSale()
	sale.Items = sale.Items[:1]
	sale.Items[0].ICMSCST = "20"
	sale.Items[0].ICMSBaseReduction = decimal.NewFromInt(40)
	sale.Payments[0].Amount = decimal.RequireFromString("25.00")
	fd, err := nfedomain.NewComposer().Compose(sale)
	require.NoError(t, err)

	out, err := infranfe.NewXMLBuilderService().Build(fd)
	require.NoError(t, err)

	assert.Contains(t, string(out), "<ICMS><ICMS20><orig>0</orig><CST>20</CST><modBC>3</modBC><pRedBC>40.0000</pRedBC><vBC>15.00</vBC><pICMS>18.0000</pICMS><vICMS>2.70</vICMS></ICMS20></ICMS>")
}

func TestBuild_CSOSN(t *testing.T) {
	sale := buildTestSale()
	sale.Emitter.Regime = pkgnfe.RegimeSimples
	sale.Items = sale.Items[:1]
	sale.Items[0].ICMSCST = "102"
	sale.Payments[0].Amount = decimal.RequireFromString("25.00")
	fd, err := nfedomain.NewComposer().Compose(sale)
	require.NoError(t, err)

	out, err := infranfe.NewXMLBuilderService().Build(fd)
	require.NoError(t, err)
	assert.Contains(t, string(out), "<ICMSSN102><orig>0</orig><CSOSN>102</CSOSN></ICMSSN102>")
	assert.Contains(t, string(out), "<CRT>1</CRT>")
}

// TestBuild_RoundTripTotales los totales releídos del XML igualan la suma de
// los ítems y de sus impuestos, sin deriva.
func TestBuild_RoundTripTotales(t *testing.T) {
	fd := composeTestDocument(t)
	out, err := infranfe.NewXMLBuilderService().Build(fd)
	require.NoError(t, err)

	parsed, err := infranfe.ParseNFe(out)
	require.NoError(t, err)
	assert.Equal(t, fd.AccessKey, parsed.AccessKey)
	require.Len(t, parsed.Items, 2)

	var sumProd, sumDesc, sumICMS, sumPIS, sumCOFINS decimal.Decimal
	for _, it := range parsed.Items {
		sumProd = sumProd.Add(it.Total)
		sumDesc = sumDesc.Add(it.Discount)
		sumICMS = sumICMS.Add(it.ICMS)
		sumPIS = sumPIS.Add(it.PIS)
		sumCOFINS = sumCOFINS.Add(it.COFINS)
	}
	tot := parsed.Totals
	assert.True(t, tot.Products.Equal(sumProd), "vProd %s ≠ %s", tot.Products, sumProd)
	assert.True(t, tot.Discount.Equal(sumDesc))
	assert.True(t, tot.ICMS.Equal(sumICMS))
	assert.True(t, tot.PIS.Equal(sumPIS))
	assert.True(t, tot.COFINS.Equal(sumCOFINS))
	assert.True(t, tot.Document.Equal(sumProd.Sub(sumDesc)))
	assert.True(t, tot.Document.Equal(fd.Doc.Totals.Document))
}

func TestParseNFe_ValorMalFormado(t *testing.T) {
	fd := composeTestDocument(t)
	out, err := infranfe.NewXMLBuilderService().Build(fd)
	require.NoError(t, err)

	badTotal := regexp.MustCompile(`<vNF>[^<]*</vNF>`).ReplaceAll(out, []byte("<vNF>83,00</vNF>"))
	_, err = infranfe.ParseNFe(badTotal)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "<vNF>")

	badItem := bytes.Replace(out, []byte("<vProd>25.00</vProd>"), []byte("<vProd>x</vProd>"), 1)
	require.NotEqual(t, out, badItem)
	_, err = infranfe.ParseNFe(badItem)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ítem 1")
}

func TestBuild_ClaveInvalida(t *testing.T) {
	fd := composeTestDocument(t)
	fd.AccessKey = "123"
	_, err := infranfe.NewXMLBuilderService().Build(fd)
	assert.ErrorIs(t, err, pkgnfe.ErrInvalidAccessKey)
}

func TestTextNormalizer(t *testing.T) {
	keep := infranfe.NewTextNormalizer(false)
	strip := infranfe.NewTextNormalizer(true)

	assert.Equal(t, "São Paulo", keep("  São   Paulo "))
	assert.Equal(t, "Sao Paulo", strip("São Paulo"))
	assert.Equal(t, "Acucar cristal", strip("Açúcar  cristal"))
	assert.Equal(t, "", strip("   "))
}

// ── helpers ─────────────────────────────────────────────────────────────────

func assertOrder(t *testing.T, s string, parts []string) {
	t.Helper()
	last := -1
	for _, p := range parts {
		i := strings.Index(s, p)
		require.GreaterOrEqual(t, i, 0, "falta %s", p)
		assert.Greater(t, i, last, "%s fuera de orden", p)
		last = i
	}
}

func composeTestDocument(t *testing.T) *nfedomain.FiscalDocument {
	t.Helper()
	c := nfedomain.NewComposer(
		nfedomain.WithClock(func() time.Time { return testNow }),
		nfedomain.WithRandom(bytes.NewReader([]byte{0x00, 0x12, 0xD6, 0x87})),
	)
	fd, err := c.Compose(buildTestSale())
	require.NoError(t, err)
	return fd
}

func buildTestSale() *entity.Sale {
	item := entity.SaleItem{
		ProductCode:        "P-001",
		Description:        "Caneta esferográfica azul",
		NCM:                "96081000",
		CFOP:               "5102",
		CommercialUnit:     "UN",
		CommercialQuantity: decimal.NewFromInt(10),
		UnitValue:          decimal.RequireFromString("2.50"),
		TotalValue:         decimal.RequireFromString("25.00"),
		TaxableUnit:        "UN",
		TaxableQuantity:    decimal.NewFromInt(10),
		Origin:             "0",
		ICMSCST:            "00",
		ICMSRate:           decimal.NewFromInt(18),
		PISCST:             "01",
		PISRate:            decimal.RequireFromString("1.65"),
		COFINSCST:          "01",
		COFINSRate:         decimal.RequireFromString("7.60"),
	}
	second := item
	second.ProductCode = "P-002"
	second.Description = "Caderno universitário"
	second.CommercialQuantity = decimal.NewFromInt(3)
	second.TaxableQuantity = decimal.NewFromInt(3)
	second.UnitValue = decimal.RequireFromString("19.99")
	second.Discount = decimal.RequireFromString("1.97")
	second.TotalValue = decimal.RequireFromString("58.00")
	second.ICMSCST = "40"
	second.PISCST = "07"
	second.COFINSCST = "07"

	return &entity.Sale{
		ID: "venta-1",
		Emitter: entity.Company{
			CNPJ:              "32409620000175",
			Name:              "Papelaria Exemplo LTDA",
			StateRegistration: "123456789110",
			Regime:            pkgnfe.RegimeNormal,
			Address: entity.Address{
				Street: "Rua Augusta", Number: "100", District: "Consolação",
				CityCode: "3550308", CityName: "São Paulo", UF: "SP", ZipCode: "01305000",
			},
		},
		Recipient:       entity.Customer{TaxID: "52998224725", Name: "Maria da Silva", IEIndicator: pkgnfe.IENonContributor},
		Items:           []entity.SaleItem{item, second},
		Payments:        []entity.Payment{{Method: pkgnfe.PaymentPix, Amount: decimal.RequireFromString("83.00")}},
		OperationNature: "Venda de mercadoria",
		Series:          "1",
		Number:          "42",
		EmittedAt:       testNow,
		Environment:     pkgnfe.EnvironmentHomologation,
		AdditionalInfo:  "Pedido 1234",
	}
}

var protocolPattern = regexp.MustCompile(`^\d{15}$`)
