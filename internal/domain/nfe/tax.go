package nfe

import (
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// TaxKind tipo de impuesto por ítem.
type TaxKind string

const (
	TaxICMS   TaxKind = "ICMS"
	TaxPIS    TaxKind = "PIS"
	TaxCOFINS TaxKind = "COFINS"
)

var hundred = decimal.NewFromInt(100)

// TaxComputation resultado de la resolución de un impuesto para un ítem.
// Basis, Rate y Amount solo tienen sentido cuando Taxed es true; en otro caso
// el grupo se emite únicamente con el código de situación.
type TaxComputation struct {
	Kind          TaxKind
	Code          string // CST o CSOSN
	Origin        string // orig, solo ICMS
	Taxed         bool
	BaseReduction decimal.Decimal // pRedBC, solo ICMS 20 y 70
	Basis         decimal.Decimal
	Rate          decimal.Decimal
	Amount        decimal.Decimal
}

// IsSimples indica si el código es un CSOSN de Simples Nacional (3 dígitos).
func (t TaxComputation) IsSimples() bool {
	return t.Kind == TaxICMS && len(t.Code) == 3
}

// TaxBasis base de cálculo del ítem: vProd − vDesc + vFrete + vSeg + vOutro.
func TaxBasis(item entity.SaleItem) decimal.Decimal {
	return item.GrossValue().
		Sub(item.Discount).
		Add(item.Freight).
		Add(item.Insurance).
		Add(item.Other)
}

// Resolve decide si el impuesto aplica según el CST del ítem y calcula el valor.
// Códigos desconocidos o no tributados producen un cálculo sin base (sin impuesto):
// nunca devuelve error, la validación estricta de códigos queda a cargo de quien llama.
func Resolve(item entity.SaleItem, kind TaxKind) TaxComputation {
	tc := TaxComputation{Kind: kind}
	var taxed map[string]bool
	switch kind {
	case TaxICMS:
		tc.Code, tc.Rate, tc.Origin = item.ICMSCST, item.ICMSRate, item.Origin
		taxed = pkgnfe.ICMSTaxedCodes
	case TaxPIS:
		tc.Code, tc.Rate = item.PISCST, item.PISRate
		taxed = pkgnfe.PISTaxedCodes
	case TaxCOFINS:
		tc.Code, tc.Rate = item.COFINSCST, item.COFINSRate
		taxed = pkgnfe.COFINSTaxedCodes
	default:
		return tc
	}
	if !taxed[tc.Code] {
		tc.Rate = decimal.Zero
		return tc
	}
	tc.Taxed = true
	tc.Basis = TaxBasis(item)
	if kind == TaxICMS && pkgnfe.ICMSReducedBaseCodes[tc.Code] {
		tc.BaseReduction = item.ICMSBaseReduction
		tc.Basis = ReducedBasis(tc.Basis, tc.BaseReduction)
	}
	tc.Amount = TaxAmount(tc.Basis, tc.Rate)
	return tc
}

// ReducedBasis basis × (1 − pRedBC / 100), redondeado a centavos (half-even).
func ReducedBasis(basis, reduction decimal.Decimal) decimal.Decimal {
	if reduction.IsZero() {
		return basis
	}
	return basis.Mul(hundred.Sub(reduction)).Div(hundred).RoundBank(2)
}

// TaxAmount basis × rate / 100 redondeado a 2 decimales con redondeo bancario (half-even).
func TaxAmount(basis, rate decimal.Decimal) decimal.Decimal {
	return basis.Mul(rate).Div(hundred).RoundBank(2)
}

// ResolveAll resuelve los tres impuestos del ítem en el orden del leiaute.
func ResolveAll(item entity.SaleItem) ItemTaxes {
	return ItemTaxes{
		ICMS:   Resolve(item, TaxICMS),
		PIS:    Resolve(item, TaxPIS),
		COFINS: Resolve(item, TaxCOFINS),
	}
}
