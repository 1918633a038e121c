package dto

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nfedomain "github.com/jhoicas/nfe-emissor/internal/domain/nfe"
)

func baseRequest() IssueRequest {
	return IssueRequest{
		SaleID: "v-1",
		Emitter: EmitterRequest{
			CNPJ: "11222333000181", Name: "Mercado", StateRegistration: "123", Regime: "3",
			Address: AddressRequest{Street: "Rua A", Number: "1", District: "Centro", CityCode: "3550308", CityName: "Sao Paulo", UF: "SP"},
		},
		Recipient: RecipientRequest{TaxID: "52998224725", Name: "Maria", IEIndicator: "9"},
		Items: []ItemRequest{{
			ProductCode: "P1", Description: "Arroz", NCM: "10063021", CFOP: "5102", Unit: "KG",
			Quantity: decimal.NewFromInt(3), UnitValue: decimal.NewFromInt(10), TotalValue: decimal.NewFromInt(30),
			Origin: "0", ICMSCST: "102", PISCST: "07", COFINSCST: "07",
		}},
		Payments:        []PaymentRequest{{Method: "01", Amount: decimal.NewFromInt(30)}},
		OperationNature: "VENDA",
		Series:          "1",
		Number:          "55",
		Environment:     "2",
	}
}

func TestValidate_RequestValido(t *testing.T) {
	assert.NoError(t, Validate(baseRequest()))
}

func TestValidate_ReportaCamposPorNombreJSON(t *testing.T) {
	in := baseRequest()
	in.Items[0].NCM = "1006"
	in.Environment = "3"

	err := Validate(in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "items[0].ncm: len")
	assert.Contains(t, err.Error(), "environment: oneof")
}

func TestValidate_LoteVacio(t *testing.T) {
	err := Validate(BatchIssueRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sales")
}

func TestToSale_MapeaDestinatarioYTransporte(t *testing.T) {
	in := baseRequest()
	at := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	in.EmittedAt = &at
	in.Recipient.Address = &AddressRequest{Street: "Rua B", Number: "2", District: "Sul", CityCode: "3304557", CityName: "Rio", UF: "rj"}
	in.Transport = &TransportRequest{Mode: "9"}
	in.Items[0].TaxableUnit = "SC"
	in.Items[0].TaxableQuantity = decimal.NewFromInt(1)

	sale := in.ToSale()

	assert.Equal(t, "v-1", sale.ID)
	assert.Equal(t, at, sale.EmittedAt)
	require.NotNil(t, sale.Recipient.Address)
	assert.Equal(t, "RJ", sale.Recipient.Address.UF)
	assert.Equal(t, "9", sale.Transport.Mode)
	assert.Equal(t, "SC", sale.Items[0].TaxableUnit)
	assert.True(t, sale.Items[0].TaxableQuantity.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, "102", sale.Items[0].ICMSCST)
	require.Len(t, sale.Payments, 1)
}

func TestNewDocumentResponse_IncluyeHistorial(t *testing.T) {
	at := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	fd := &nfedomain.FiscalDocument{ID: "id-1", Status: nfedomain.StatusAssembled, Series: "1", Number: "55"}
	require.NoError(t, fd.TransitionTo(nfedomain.StatusSigned, at, ""))
	fd.RecordRetry(at)

	resp := NewDocumentResponse(fd)

	assert.Equal(t, "SIGNED", resp.Status)
	require.Len(t, resp.History, 1)
	assert.Equal(t, "ASSEMBLED", resp.History[0].From)
	assert.Equal(t, "SIGNED", resp.History[0].To)
	assert.Equal(t, []time.Time{at}, resp.RetryTimestamps)
}
