package nfe

import (
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

var (
	seriesPattern = regexp.MustCompile(`^(0|[1-9][0-9]{0,2})$`)
	numberPattern = regexp.MustCompile(`^[1-9][0-9]{0,8}$`)
)

// Composer arma el documento fiscal a partir de la venta. No hace I/O: solo
// necesita un reloj y una fuente aleatoria para el cNF, ambos inyectables.
// Es seguro para uso concurrente.
type Composer struct {
	now            func() time.Time
	random         io.Reader
	processVersion string
	normalize      func(string) string
}

// ComposerOption configura el Composer.
type ComposerOption func(*Composer)

// WithClock reloj usado para las transiciones y la fecha de emisión por defecto.
func WithClock(now func() time.Time) ComposerOption {
	return func(c *Composer) { c.now = now }
}

// WithRandom fuente aleatoria del cNF (por defecto crypto/rand).
func WithRandom(r io.Reader) ComposerOption {
	return func(c *Composer) { c.random = r }
}

// WithProcessVersion valor de verProc.
func WithProcessVersion(v string) ComposerOption {
	return func(c *Composer) { c.processVersion = v }
}

// WithTextNormalizer normalizador de textos libres (nombres, descripciones).
func WithTextNormalizer(fn func(string) string) ComposerOption {
	return func(c *Composer) { c.normalize = fn }
}

// NewComposer crea el compositor.
func NewComposer(opts ...ComposerOption) *Composer {
	c := &Composer{
		now:            time.Now,
		processVersion: pkgnfe.DefaultVerProc,
		normalize:      strings.TrimSpace,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose valida la venta y devuelve el documento en estado ASSEMBLED con su clave
// de acceso ya derivada. Devuelve IncompleteDataError o ValidationError (unidos con
// errors.Join cuando hay varios) sin producir documento.
func (c *Composer) Compose(sale *entity.Sale) (*FiscalDocument, error) {
	if sale == nil {
		return nil, &IncompleteDataError{Field: "venta"}
	}
	if err := checkComplete(sale); err != nil {
		return nil, err
	}
	if err := validateSale(sale); err != nil {
		return nil, err
	}

	emittedAt := sale.EmittedAt
	if emittedAt.IsZero() {
		emittedAt = c.now()
	}
	emitterCNPJ := pkgnfe.OnlyDigits(sale.Emitter.CNPJ)
	ufCode := pkgnfe.UFCodes[strings.ToUpper(sale.Emitter.Address.UF)]

	controlCode, err := pkgnfe.NewControlCode(c.random, sale.Number)
	if err != nil {
		return nil, err
	}
	key, err := pkgnfe.BuildAccessKey(pkgnfe.AccessKeyFields{
		UFCode:       ufCode,
		YearMonth:    emittedAt.Format("0601"),
		CNPJ:         emitterCNPJ,
		Model:        pkgnfe.ModelNFe,
		Series:       sale.Series,
		Number:       sale.Number,
		EmissionType: pkgnfe.EmissionNormal,
		ControlCode:  controlCode,
	})
	if err != nil {
		return nil, &ValidationError{Field: "chave", Reason: err.Error()}
	}

	items := make([]Item, len(sale.Items))
	for i, it := range sale.Items {
		items[i] = AssembleItem(i+1, it, c.normalize)
	}

	purpose := sale.Purpose
	if purpose == "" {
		purpose = pkgnfe.PurposeNormal
	}

	doc := &Document{
		Identification: Identification{
			UFCode:          ufCode,
			ControlCode:     controlCode,
			OperationNature: c.normalize(sale.OperationNature),
			Model:           pkgnfe.ModelNFe,
			Series:          sale.Series,
			Number:          sale.Number,
			EmittedAt:       emittedAt,
			OperationType:   pkgnfe.OperationOutput,
			Destination:     pkgnfe.DestInternal,
			CityCode:        pkgnfe.OnlyDigits(sale.Emitter.Address.CityCode),
			PrintFormat:     pkgnfe.PrintPortrait,
			EmissionType:    pkgnfe.EmissionNormal,
			CheckDigit:      key.CheckDigitValue(),
			Environment:     sale.Environment,
			Purpose:         purpose,
			FinalConsumer:   pkgnfe.FinalConsumer,
			Presence:        pkgnfe.PresenceOnSite,
			Process:         pkgnfe.ProcessOwnApp,
			ProcessVersion:  c.processVersion,
		},
		Emitter: Emitter{
			CNPJ:              emitterCNPJ,
			Name:              c.normalize(sale.Emitter.Name),
			TradeName:         c.normalize(sale.Emitter.TradeName),
			Address:           c.address(sale.Emitter.Address),
			StateRegistration: pkgnfe.OnlyDigits(sale.Emitter.StateRegistration),
			Regime:            sale.Emitter.Regime,
		},
		Recipient: c.recipient(sale),
		Items:     items,
		Totals:    ComputeTotals(items),
		Transport: c.transport(sale.Transport),
		Payment:   payment(sale),
	}
	if info := c.normalize(sale.AdditionalInfo); info != "" {
		doc.Additional = &AdditionalInfo{Complementary: info}
	}

	if err := checkPayment(doc); err != nil {
		return nil, err
	}

	now := c.now()
	fd := &FiscalDocument{
		SaleID:      sale.ID,
		Doc:         doc,
		AccessKey:   key,
		EmitterCNPJ: emitterCNPJ,
		Series:      sale.Series,
		Number:      sale.Number,
		Environment: sale.Environment,
		EmittedAt:   emittedAt,
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := fd.TransitionTo(StatusAssembled, now, ""); err != nil {
		return nil, err
	}
	return fd, nil
}

// ComputeTotals suma los valores de los ítems y sus impuestos (grupo ICMSTot).
func ComputeTotals(items []Item) Totals {
	var t Totals
	for _, it := range items {
		p := it.Product
		t.Products = t.Products.Add(p.GrossValue)
		t.Freight = t.Freight.Add(p.Freight)
		t.Insurance = t.Insurance.Add(p.Insurance)
		t.Discount = t.Discount.Add(p.Discount)
		t.Other = t.Other.Add(p.Other)
		if it.Taxes.ICMS.Taxed {
			t.ICMSBasis = t.ICMSBasis.Add(it.Taxes.ICMS.Basis)
			t.ICMS = t.ICMS.Add(it.Taxes.ICMS.Amount)
		}
		if it.Taxes.PIS.Taxed {
			t.PIS = t.PIS.Add(it.Taxes.PIS.Amount)
		}
		if it.Taxes.COFINS.Taxed {
			t.COFINS = t.COFINS.Add(it.Taxes.COFINS.Amount)
		}
	}
	t.Document = t.Products.Sub(t.Discount).Add(t.Freight).Add(t.Insurance).Add(t.Other)
	return t
}

// ── helpers privados ──────────────────────────────────────────────────────────

func checkComplete(sale *entity.Sale) error {
	var errs []error
	missing := func(field string) {
		errs = append(errs, &IncompleteDataError{Field: field})
	}
	if strings.TrimSpace(sale.Emitter.CNPJ) == "" {
		missing("emit.CNPJ")
	}
	if strings.TrimSpace(sale.Emitter.Name) == "" {
		missing("emit.xNome")
	}
	if strings.TrimSpace(sale.Emitter.Address.UF) == "" {
		missing("emit.enderEmit.UF")
	}
	if strings.TrimSpace(sale.Recipient.TaxID) == "" {
		missing("dest.CNPJ/CPF")
	}
	if strings.TrimSpace(sale.Recipient.Name) == "" {
		missing("dest.xNome")
	}
	if strings.TrimSpace(sale.Series) == "" {
		missing("serie")
	}
	if strings.TrimSpace(sale.Number) == "" {
		missing("nNF")
	}
	if strings.TrimSpace(sale.Environment) == "" {
		missing("tpAmb")
	}
	if len(sale.Items) == 0 {
		missing("det")
	}
	if len(sale.Payments) == 0 {
		missing("pag")
	}
	for _, p := range sale.Payments {
		if strings.TrimSpace(p.Method) == "" {
			missing("pag.detPag.tPag")
		}
	}
	for i, it := range sale.Items {
		inc, _ := checkItem(i+1, it)
		errs = append(errs, inc...)
	}
	return errors.Join(errs...)
}

func validateSale(sale *entity.Sale) error {
	var errs []error
	bad := func(field, reason string) {
		errs = append(errs, &ValidationError{Field: field, Reason: reason})
	}
	if err := pkgnfe.ValidateCNPJ(sale.Emitter.CNPJ); err != nil {
		bad("emit.CNPJ", err.Error())
	}
	if err := pkgnfe.ValidateTaxID(sale.Recipient.TaxID); err != nil {
		bad("dest.CNPJ/CPF", err.Error())
	}
	if _, ok := pkgnfe.UFCodes[strings.ToUpper(sale.Emitter.Address.UF)]; !ok {
		bad("emit.enderEmit.UF", "UF desconocida: "+sale.Emitter.Address.UF)
	}
	if len(pkgnfe.OnlyDigits(sale.Emitter.Address.CityCode)) != 7 {
		bad("emit.enderEmit.cMun", "el código IBGE debe tener 7 dígitos")
	}
	switch sale.Emitter.Regime {
	case pkgnfe.RegimeSimples, pkgnfe.RegimeSimplesExcess, pkgnfe.RegimeNormal, pkgnfe.RegimeMEI:
	default:
		bad("emit.CRT", "régimen tributario desconocido: "+sale.Emitter.Regime)
	}
	if !seriesPattern.MatchString(sale.Series) {
		bad("serie", "debe ser numérica entre 0 y 999 sin ceros a la izquierda")
	}
	if !numberPattern.MatchString(sale.Number) {
		bad("nNF", "debe ser numérico entre 1 y 999999999 sin ceros a la izquierda")
	}
	if sale.Environment != pkgnfe.EnvironmentProduction && sale.Environment != pkgnfe.EnvironmentHomologation {
		bad("tpAmb", "ambiente desconocido: "+sale.Environment)
	}
	if sale.Purpose != "" && !pkgnfe.ValidPurposes[sale.Purpose] {
		bad("finNFe", "finalidad desconocida: "+sale.Purpose)
	}
	switch sale.Recipient.IEIndicator {
	case "", pkgnfe.IEContributor, pkgnfe.IEExempt, pkgnfe.IENonContributor:
	default:
		bad("dest.indIEDest", "indicador desconocido: "+sale.Recipient.IEIndicator)
	}
	for i, it := range sale.Items {
		_, inv := checkItem(i+1, it)
		errs = append(errs, inv...)
	}
	for i, p := range sale.Payments {
		if p.Amount.IsNegative() {
			bad("pag.detPag.vPag", "monto negativo en el pago "+strconv.Itoa(i+1))
		}
	}
	return errors.Join(errs...)
}

// checkPayment el total pagado menos el cambio debe igualar vNF, salvo "sin pago".
func checkPayment(doc *Document) error {
	if len(doc.Payment.Details) == 1 && doc.Payment.Details[0].Method == pkgnfe.PaymentNone {
		return nil
	}
	paid := doc.Payment.Total().Sub(doc.Payment.Change)
	if paid.Sub(doc.Totals.Document).Abs().GreaterThan(reconcileTolerance) {
		return &ValidationError{
			Field:  "pag",
			Reason: "total pagado " + paid.StringFixed(2) + " no coincide con vNF " + doc.Totals.Document.StringFixed(2),
		}
	}
	return nil
}

func (c *Composer) address(a entity.Address) Address {
	country, countryName := a.CountryCode, a.CountryName
	if country == "" {
		country, countryName = "1058", "BRASIL"
	}
	return Address{
		Street:      c.normalize(a.Street),
		Number:      c.normalize(a.Number),
		Complement:  c.normalize(a.Complement),
		District:    c.normalize(a.District),
		CityCode:    pkgnfe.OnlyDigits(a.CityCode),
		CityName:    c.normalize(a.CityName),
		UF:          strings.ToUpper(a.UF),
		ZipCode:     pkgnfe.OnlyDigits(a.ZipCode),
		CountryCode: country,
		CountryName: countryName,
		Phone:       pkgnfe.OnlyDigits(a.Phone),
	}
}

func (c *Composer) recipient(sale *entity.Sale) Recipient {
	r := sale.Recipient
	out := Recipient{
		Name:        c.normalize(r.Name),
		IEIndicator: r.IEIndicator,
		Email:       strings.TrimSpace(r.Email),
	}
	if sale.Environment == pkgnfe.EnvironmentHomologation {
		out.Name = pkgnfe.HomologationRecipientName
	}
	if r.IsCompany() {
		out.CNPJ = pkgnfe.OnlyDigits(r.TaxID)
	} else {
		out.CPF = pkgnfe.OnlyDigits(r.TaxID)
	}
	if out.IEIndicator == "" {
		out.IEIndicator = pkgnfe.IENonContributor
	}
	if out.IEIndicator == pkgnfe.IEContributor {
		out.StateRegistration = pkgnfe.OnlyDigits(r.StateRegistration)
	}
	if r.Address != nil {
		addr := c.address(*r.Address)
		out.Address = &addr
	}
	return out
}

func (c *Composer) transport(t entity.Transport) Transport {
	out := Transport{Mode: t.Mode}
	if out.Mode == "" {
		out.Mode = pkgnfe.FreightNone
	}
	if out.Mode == pkgnfe.FreightNone {
		return out
	}
	switch id := pkgnfe.OnlyDigits(t.CarrierTaxID); len(id) {
	case 14:
		out.CarrierCNPJ = id
	case 11:
		out.CarrierCPF = id
	}
	out.CarrierName = c.normalize(t.CarrierName)
	out.CarrierUF = strings.ToUpper(t.CarrierUF)
	return out
}

func payment(sale *entity.Sale) Payment {
	p := Payment{Change: sale.Change}
	for _, pay := range sale.Payments {
		p.Details = append(p.Details, PaymentDetail{Method: pay.Method, Amount: pay.Amount})
	}
	return p
}
