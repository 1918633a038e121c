package nfe

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// reconcileTolerance diferencia máxima aceptada entre el total informado del ítem
// y cantidad × valor unitario − descuento.
var reconcileTolerance = decimal.NewFromFloat(0.01)

// AssembleItem arma el grupo det de una línea: datos del producto, raíz de
// impuestos y los tres cálculos en orden ICMS, PIS, COFINS. n es el nItem (desde 1).
func AssembleItem(n int, it entity.SaleItem, normalize func(string) string) Item {
	if normalize == nil {
		normalize = strings.TrimSpace
	}
	barcode := strings.TrimSpace(it.Barcode)
	if barcode == "" {
		barcode = pkgnfe.BarcodeSentinel
	}
	taxableBarcode := strings.TrimSpace(it.TaxableBarcode)
	if taxableBarcode == "" {
		taxableBarcode = barcode
	}
	gross := it.GrossValue()
	return Item{
		Number: n,
		Product: Product{
			Code:               strings.TrimSpace(it.ProductCode),
			Barcode:            barcode,
			Description:        normalize(it.Description),
			NCM:                pkgnfe.OnlyDigits(it.NCM),
			CFOP:               pkgnfe.OnlyDigits(it.CFOP),
			CommercialUnit:     strings.TrimSpace(it.CommercialUnit),
			CommercialQuantity: it.CommercialQuantity,
			UnitValue:          it.UnitValue,
			GrossValue:         gross,
			TaxableBarcode:     taxableBarcode,
			TaxableUnit:        strings.TrimSpace(it.TaxableUnit),
			TaxableQuantity:    it.TaxableQuantity,
			TaxableUnitValue:   taxableUnitValue(it, gross),
			Freight:            it.Freight,
			Insurance:          it.Insurance,
			Discount:           it.Discount,
			Other:              it.Other,
			ComposesTotal:      "1",
		},
		Taxes: ResolveAll(it),
	}
}

// taxableUnitValue vUnTrib: el informado, el comercial si la unidad coincide o
// vProd / qTrib en otro caso.
func taxableUnitValue(it entity.SaleItem, gross decimal.Decimal) decimal.Decimal {
	if !it.TaxableUnitValue.IsZero() {
		return it.TaxableUnitValue
	}
	if strings.EqualFold(strings.TrimSpace(it.TaxableUnit), strings.TrimSpace(it.CommercialUnit)) &&
		it.TaxableQuantity.Equal(it.CommercialQuantity) {
		return it.UnitValue
	}
	if it.TaxableQuantity.IsZero() {
		return decimal.Zero
	}
	return gross.Div(it.TaxableQuantity).Round(10)
}

// checkItem valida campos obligatorios y la conciliación del total de una línea.
func checkItem(n int, it entity.SaleItem) (incomplete, invalid []error) {
	missing := func(field string) {
		incomplete = append(incomplete, &IncompleteDataError{Item: n, Field: field})
	}
	bad := func(field, reason string) {
		invalid = append(invalid, &ValidationError{Item: n, Field: field, Reason: reason})
	}

	if strings.TrimSpace(it.ProductCode) == "" {
		missing("cProd")
	}
	if strings.TrimSpace(it.Description) == "" {
		missing("xProd")
	}
	if it.NCM == "" {
		missing("NCM")
	}
	if it.CFOP == "" {
		missing("CFOP")
	}
	// Unidad comercial y tributable van siempre en pares unidad/cantidad.
	if strings.TrimSpace(it.CommercialUnit) == "" {
		missing("uCom")
	}
	if it.CommercialQuantity.IsZero() {
		missing("qCom")
	}
	if strings.TrimSpace(it.TaxableUnit) == "" {
		missing("uTrib")
	}
	if it.TaxableQuantity.IsZero() {
		missing("qTrib")
	}
	if it.ICMSCST == "" {
		missing("ICMS.CST")
	}
	if it.PISCST == "" {
		missing("PIS.CST")
	}
	if it.COFINSCST == "" {
		missing("COFINS.CST")
	}
	if len(incomplete) > 0 {
		return incomplete, nil
	}

	if ncm := pkgnfe.OnlyDigits(it.NCM); len(ncm) != 8 {
		bad("NCM", "debe tener 8 dígitos")
	}
	if cfop := pkgnfe.OnlyDigits(it.CFOP); len(cfop) != 4 {
		bad("CFOP", "debe tener 4 dígitos")
	}
	if it.CommercialQuantity.IsNegative() || it.TaxableQuantity.IsNegative() {
		bad("qCom", "la cantidad no puede ser negativa")
	}
	if it.UnitValue.IsNegative() {
		bad("vUnCom", "el valor unitario no puede ser negativo")
	}
	amounts := []struct {
		field string
		value decimal.Decimal
	}{{"vFrete", it.Freight}, {"vSeg", it.Insurance}, {"vDesc", it.Discount}, {"vOutro", it.Other}}
	for _, a := range amounts {
		if a.value.IsNegative() {
			bad(a.field, "no puede ser negativo")
		}
	}
	if it.ICMSBaseReduction.IsNegative() || it.ICMSBaseReduction.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		bad("pRedBC", "debe estar entre 0 y 100")
	}
	expected := it.GrossValue().Sub(it.Discount)
	if it.TotalValue.Sub(expected).Abs().GreaterThan(reconcileTolerance) {
		bad("vProd", "total "+it.TotalValue.StringFixed(2)+" no concilia con cantidad × valor unitario − descuento = "+expected.StringFixed(2))
	}
	if it.Discount.GreaterThan(it.GrossValue()) {
		bad("vDesc", "el descuento supera el valor del producto")
	}
	return nil, invalid
}
