// Package nfe contiene el árbol del documento fiscal (NF-e modelo 55), la resolución
// de impuestos por ítem, el compositor del documento y su máquina de estados.
package nfe

import (
	"time"

	"github.com/shopspring/decimal"
)

// Document árbol tipado de infNFe. El orden de los campos de Document refleja el
// orden de secciones del leiaute 4.00 y el serializador lo recorre tal cual.
type Document struct {
	Identification Identification
	Emitter        Emitter
	Recipient      Recipient
	Items          []Item
	Totals         Totals
	Transport      Transport
	Payment        Payment
	Additional     *AdditionalInfo
}

// Identification grupo ide.
type Identification struct {
	UFCode          string // cUF
	ControlCode     string // cNF
	OperationNature string // natOp
	Model           string // mod
	Series          string // serie
	Number          string // nNF
	EmittedAt       time.Time
	OperationType   string // tpNF
	Destination     string // idDest
	CityCode        string // cMunFG
	PrintFormat     string // tpImp
	EmissionType    string // tpEmis
	CheckDigit      string // cDV
	Environment     string // tpAmb
	Purpose         string // finNFe
	FinalConsumer   string // indFinal
	Presence        string // indPres
	Process         string // procEmi
	ProcessVersion  string // verProc
}

// Address grupo enderEmit / enderDest.
type Address struct {
	Street      string
	Number      string
	Complement  string
	District    string
	CityCode    string
	CityName    string
	UF          string
	ZipCode     string
	CountryCode string
	CountryName string
	Phone       string
}

// Emitter grupo emit.
type Emitter struct {
	CNPJ              string
	Name              string
	TradeName         string
	Address           Address
	StateRegistration string
	Regime            string // CRT
}

// Recipient grupo dest. Solo uno de CNPJ o CPF está presente.
type Recipient struct {
	CNPJ              string
	CPF               string
	Name              string
	Address           *Address
	IEIndicator       string
	StateRegistration string
	Email             string
}

// Item grupo det: producto más raíz de impuestos.
type Item struct {
	Number  int // nItem, desde 1
	Product Product
	Taxes   ItemTaxes
}

// Product grupo prod.
type Product struct {
	Code               string
	Barcode            string
	Description        string
	NCM                string
	CFOP               string
	CommercialUnit     string
	CommercialQuantity decimal.Decimal
	UnitValue          decimal.Decimal
	GrossValue         decimal.Decimal // vProd
	TaxableBarcode     string
	TaxableUnit        string
	TaxableQuantity    decimal.Decimal
	TaxableUnitValue   decimal.Decimal
	Freight            decimal.Decimal
	Insurance          decimal.Decimal
	Discount           decimal.Decimal
	Other              decimal.Decimal
	ComposesTotal      string // indTot
}

// Total vProd − vDesc del ítem.
func (p Product) Total() decimal.Decimal {
	return p.GrossValue.Sub(p.Discount)
}

// ItemTaxes grupo imposto, en el orden fijo ICMS, PIS, COFINS.
type ItemTaxes struct {
	ICMS   TaxComputation
	PIS    TaxComputation
	COFINS TaxComputation
}

// Totals grupo total/ICMSTot.
type Totals struct {
	ICMSBasis decimal.Decimal // vBC
	ICMS      decimal.Decimal // vICMS
	Products  decimal.Decimal // vProd
	Freight   decimal.Decimal // vFrete
	Insurance decimal.Decimal // vSeg
	Discount  decimal.Decimal // vDesc
	PIS       decimal.Decimal // vPIS
	COFINS    decimal.Decimal // vCOFINS
	Other     decimal.Decimal // vOutro
	Document  decimal.Decimal // vNF
	TaxBurden decimal.Decimal // vTotTrib
}

// Transport grupo transp.
type Transport struct {
	Mode        string // modFrete
	CarrierCNPJ string
	CarrierCPF  string
	CarrierName string
	CarrierUF   string
}

// Payment grupo pag.
type Payment struct {
	Details []PaymentDetail
	Change  decimal.Decimal // vTroco
}

// PaymentDetail grupo detPag.
type PaymentDetail struct {
	Method string
	Amount decimal.Decimal
}

// Total suma de vPag.
func (p Payment) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, d := range p.Details {
		sum = sum.Add(d.Amount)
	}
	return sum
}

// AdditionalInfo grupo infAdic.
type AdditionalInfo struct {
	Complementary string // infCpl
}
