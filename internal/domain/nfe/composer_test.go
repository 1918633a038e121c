package nfe_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

var testNow = time.Date(2025, 5, 12, 10, 30, 0, 0, time.FixedZone("BRT", -3*3600))

func TestCompose_DocumentoArmado(t *testing.T) {
	// 0x0012D687 = 1234567 → cNF 01234567
	c := nfe.NewComposer(
		nfe.WithClock(func() time.Time { return testNow }),
		nfe.WithRandom(bytes.NewReader([]byte{0x00, 0x12, 0xD6, 0x87})),
	)

	fd, err := c.Compose(buildTestSale())
	require.NoError(t, err)

	assert.Equal(t, nfe.StatusAssembled, fd.Status)
	require.Len(t, fd.History, 1)
	assert.Equal(t, nfe.StatusDraft, fd.History[0].From)

	want, err := pkgnfe.BuildAccessKey(pkgnfe.AccessKeyFields{
		UFCode: "35", YearMonth: "2505", CNPJ: "32409620000175", Model: "55",
		Series: "1", Number: "42", EmissionType: "1", ControlCode: "01234567",
	})
	require.NoError(t, err)
	assert.Equal(t, want, fd.AccessKey)
	assert.True(t, fd.AccessKey.Valid())

	ide := fd.Doc.Identification
	assert.Equal(t, "42", ide.Number, "el número se preserva tal cual")
	assert.Equal(t, "01234567", ide.ControlCode)
	assert.Equal(t, fd.AccessKey.CheckDigitValue(), ide.CheckDigit)
	assert.Equal(t, pkgnfe.ModelNFe, ide.Model)
	assert.Equal(t, "3550308", ide.CityCode)

	assert.Equal(t, "52998224725", fd.Doc.Recipient.CPF)
	assert.Empty(t, fd.Doc.Recipient.CNPJ)
	assert.Equal(t, pkgnfe.HomologationRecipientName, fd.Doc.Recipient.Name)
	assert.Equal(t, pkgnfe.FreightNone, fd.Doc.Transport.Mode)
}

// TestCompose_TotalesCuadran los totales equivalen a la suma de ítems e impuestos.
func TestCompose_TotalesCuadran(t *testing.T) {
	sale := buildTestSale()
	second := buildTestItem()
	second.ProductCode = "P-002"
	second.CommercialQuantity = decimal.NewFromInt(3)
	second.TaxableQuantity = decimal.NewFromInt(3)
	second.UnitValue = decimal.RequireFromString("19.99")
	second.Discount = decimal.RequireFromString("1.97")
	second.TotalValue = decimal.RequireFromString("58.00")
	second.ICMSCST = "40"
	sale.Items = append(sale.Items, second)
	sale.Payments[0].Amount = decimal.RequireFromString("83.00")

	fd, err := nfe.NewComposer().Compose(sale)
	require.NoError(t, err)

	var sumProd, sumICMS, sumPIS, sumCOFINS decimal.Decimal
	for _, it := range fd.Doc.Items {
		sumProd = sumProd.Add(it.Product.Total())
		sumICMS = sumICMS.Add(it.Taxes.ICMS.Amount)
		sumPIS = sumPIS.Add(it.Taxes.PIS.Amount)
		sumCOFINS = sumCOFINS.Add(it.Taxes.COFINS.Amount)
	}
	tot := fd.Doc.Totals
	assert.True(t, tot.Products.Sub(tot.Discount).Equal(sumProd))
	assert.True(t, tot.ICMS.Equal(decimal.RequireFromString("4.50")), "el ítem con CST 40 no suma ICMS")
	assert.True(t, tot.ICMS.Equal(sumICMS))
	assert.True(t, tot.PIS.Equal(sumPIS))
	assert.True(t, tot.COFINS.Equal(sumCOFINS))
	assert.True(t, tot.Document.Equal(decimal.RequireFromString("83.00")), "vNF: %s", tot.Document)
	assert.Equal(t, 2, fd.Doc.Items[1].Number)
}

func TestCompose_DatosIncompletos(t *testing.T) {
	sale := buildTestSale()
	sale.Emitter.CNPJ = ""
	sale.Items = nil

	_, err := nfe.NewComposer().Compose(sale)
	require.Error(t, err)
	assert.ErrorIs(t, err, nfe.ErrIncompleteData)
	assert.NotErrorIs(t, err, nfe.ErrValidation, "los datos faltantes se reportan antes de validar")

	var inc *nfe.IncompleteDataError
	require.True(t, errors.As(err, &inc))
	assert.Equal(t, "emit.CNPJ", inc.Field)
	assert.Contains(t, err.Error(), "det")
}

func TestCompose_SinPago(t *testing.T) {
	sale := buildTestSale()
	sale.Payments = nil

	_, err := nfe.NewComposer().Compose(sale)
	assert.ErrorIs(t, err, nfe.ErrIncompleteData)
}

func TestCompose_ParUnidadTributable(t *testing.T) {
	sale := buildTestSale()
	sale.Items[0].TaxableUnit = ""

	_, err := nfe.NewComposer().Compose(sale)
	var inc *nfe.IncompleteDataError
	require.True(t, errors.As(err, &inc))
	assert.Equal(t, 1, inc.Item)
	assert.Equal(t, "uTrib", inc.Field)
}

// TestCompose_TotalNoConcilia total del ítem distinto de cantidad × valor unitario.
func TestCompose_TotalNoConcilia(t *testing.T) {
	sale := buildTestSale()
	sale.Items[0].TotalValue = decimal.RequireFromString("25.02")

	_, err := nfe.NewComposer().Compose(sale)
	require.ErrorIs(t, err, nfe.ErrValidation)

	var v *nfe.ValidationError
	require.True(t, errors.As(err, &v))
	assert.Equal(t, 1, v.Item)
	assert.Equal(t, "vProd", v.Field)
	assert.Contains(t, err.Error(), "ítem 1")
}

func TestCompose_ToleranciaDeUnCentavo(t *testing.T) {
	sale := buildTestSale()
	sale.Items[0].TotalValue = decimal.RequireFromString("25.01")

	_, err := nfe.NewComposer().Compose(sale)
	assert.NoError(t, err)
}

func TestCompose_ReduccionDeBaseFueraDeRango(t *testing.T) {
	sale := buildTestSale()
	sale.Items[0].ICMSCST = "20"
	sale.Items[0].ICMSBaseReduction = decimal.NewFromInt(100)

	_, err := nfe.NewComposer().Compose(sale)
	require.ErrorIs(t, err, nfe.ErrValidation)

	var v *nfe.ValidationError
	require.True(t, errors.As(err, &v))
	assert.Equal(t, "pRedBC", v.Field)
}

func TestCompose_CNPJInvalido(t *testing.T) {
	sale := buildTestSale()
	sale.Emitter.CNPJ = "32409620000176"

	_, err := nfe.NewComposer().Compose(sale)
	assert.ErrorIs(t, err, nfe.ErrValidation)
}

func TestCompose_PagoNoCuadra(t *testing.T) {
	sale := buildTestSale()
	sale.Payments[0].Amount = decimal.RequireFromString("20.00")

	_, err := nfe.NewComposer().Compose(sale)
	var v *nfe.ValidationError
	require.True(t, errors.As(err, &v))
	assert.Equal(t, "pag", v.Field)
}

// TestCompose_ControlCodeAleatorio dos composiciones de la misma venta no repiten cNF.
func TestCompose_ControlCodeAleatorio(t *testing.T) {
	c := nfe.NewComposer()
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		fd, err := c.Compose(buildTestSale())
		require.NoError(t, err)
		assert.NotEqual(t, "00000042", fd.Doc.Identification.ControlCode)
		seen[fd.AccessKey.String()] = true
	}
	assert.Greater(t, len(seen), 1, "la clave no debe ser determinista entre documentos")
}

func TestCompose_NoModificaLaVenta(t *testing.T) {
	sale := buildTestSale()
	before := *sale
	_, err := nfe.NewComposer().Compose(sale)
	require.NoError(t, err)
	assert.Equal(t, before.Recipient.Name, sale.Recipient.Name)
	assert.Equal(t, before.Number, sale.Number)
}

// ── helper ──────────────────────────────────────────────────────────────────

func buildTestSale() *entity.Sale {
	return &entity.Sale{
		ID: "venta-1",
		Emitter: entity.Company{
			CNPJ:              "32.409.620/0001-75",
			Name:              "Papelaria Exemplo LTDA",
			StateRegistration: "123456789110",
			Regime:            pkgnfe.RegimeNormal,
			Address: entity.Address{
				Street: "Rua Augusta", Number: "100", District: "Consolação",
				CityCode: "3550308", CityName: "São Paulo", UF: "SP", ZipCode: "01305-000",
			},
		},
		Recipient: entity.Customer{
			TaxID:       "529.982.247-25",
			Name:        "Maria da Silva",
			IEIndicator: pkgnfe.IENonContributor,
		},
		Items:           []entity.SaleItem{buildTestItem()},
		Payments:        []entity.Payment{{Method: pkgnfe.PaymentCash, Amount: decimal.RequireFromString("25.00")}},
		OperationNature: "Venda de mercadoria",
		Series:          "1",
		Number:          "42",
		EmittedAt:       testNow,
		Environment:     pkgnfe.EnvironmentHomologation,
	}
}
