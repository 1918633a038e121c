package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sale registro de venta normalizado que recibe el motor de emisión.
// Es inmutable una vez entregado: el motor nunca lo modifica.
type Sale struct {
	ID              string
	Emitter         Company
	Recipient       Customer
	Items           []SaleItem
	Payments        []Payment
	Change          decimal.Decimal // vTroco
	Transport       Transport
	OperationNature string    // natOp
	Series          string    // serie, asignada por el colaborador de numeración
	Number          string    // nNF, se preserva tal cual en documento y clave
	EmittedAt       time.Time // dhEmi
	Environment     string    // tpAmb: 1 producción, 2 homologación
	Purpose         string    // finNFe
	AdditionalInfo  string    // infCpl
}

// SaleItem línea de la venta.
type SaleItem struct {
	ProductCode string // cProd
	Barcode     string // cEAN; vacío = "SEM GTIN"
	Description string // xProd
	NCM         string
	CFOP        string

	CommercialUnit     string          // uCom
	CommercialQuantity decimal.Decimal // qCom
	UnitValue          decimal.Decimal // vUnCom
	TotalValue         decimal.Decimal // cantidad × valor unitario − descuento

	TaxableBarcode   string          // cEANTrib; vacío = Barcode
	TaxableUnit      string          // uTrib
	TaxableQuantity  decimal.Decimal // qTrib
	TaxableUnitValue decimal.Decimal // vUnTrib; cero = UnitValue cuando la unidad coincide

	Freight   decimal.Decimal // vFrete
	Insurance decimal.Decimal // vSeg
	Discount  decimal.Decimal // vDesc
	Other     decimal.Decimal // vOutro

	Origin            string // orig de la mercadería (0 nacional...)
	ICMSCST           string // CST (2 dígitos) o CSOSN (3 dígitos, Simples Nacional)
	ICMSRate          decimal.Decimal
	ICMSBaseReduction decimal.Decimal // pRedBC en %, solo CST 20 y 70
	PISCST            string
	PISRate           decimal.Decimal
	COFINSCST         string
	COFINSRate        decimal.Decimal
}

// GrossValue cantidad × valor unitario (vProd), redondeado a centavos (half-even).
func (i SaleItem) GrossValue() decimal.Decimal {
	return i.CommercialQuantity.Mul(i.UnitValue).RoundBank(2)
}

// Payment forma de pago (detPag).
type Payment struct {
	Method string          // tPag
	Amount decimal.Decimal // vPag
}

// Transport modalidad de flete y transportista (transp).
type Transport struct {
	Mode         string // modFrete; vacío = sin transporte
	CarrierTaxID string
	CarrierName  string
	CarrierUF    string
}
