package dto

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	nfedomain "github.com/jhoicas/nfe-emissor/internal/domain/nfe"
)

// IssueRequest body para POST /api/nfe: la venta normalizada.
type IssueRequest struct {
	SaleID          string            `json:"sale_id"`
	Emitter         EmitterRequest    `json:"emitter" validate:"required"`
	Recipient       RecipientRequest  `json:"recipient" validate:"required"`
	Items           []ItemRequest     `json:"items" validate:"required,min=1,max=990,dive"`
	Payments        []PaymentRequest  `json:"payments" validate:"required,min=1,max=100,dive"`
	Change          decimal.Decimal   `json:"change"`
	Transport       *TransportRequest `json:"transport,omitempty"`
	OperationNature string            `json:"operation_nature" validate:"required,max=60"`
	Series          string            `json:"series" validate:"required,numeric,max=3"`
	Number          string            `json:"number" validate:"required,numeric,max=9"`
	EmittedAt       *time.Time        `json:"emitted_at,omitempty"`
	Environment     string            `json:"environment" validate:"required,oneof=1 2"`
	Purpose         string            `json:"purpose,omitempty" validate:"omitempty,oneof=1 2 3 4"`
	AdditionalInfo  string            `json:"additional_info,omitempty" validate:"max=5000"`
}

// AddressRequest dirección fiscal.
type AddressRequest struct {
	Street     string `json:"street" validate:"required,max=60"`
	Number     string `json:"number" validate:"required,max=60"`
	Complement string `json:"complement,omitempty" validate:"max=60"`
	District   string `json:"district" validate:"required,max=60"`
	CityCode   string `json:"city_code" validate:"required,numeric,len=7"`
	CityName   string `json:"city_name" validate:"required,max=60"`
	UF         string `json:"uf" validate:"required,len=2"`
	ZipCode    string `json:"zip_code,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// EmitterRequest emisor (emit).
type EmitterRequest struct {
	CNPJ              string         `json:"cnpj" validate:"required"`
	Name              string         `json:"name" validate:"required,max=60"`
	TradeName         string         `json:"trade_name,omitempty" validate:"max=60"`
	StateRegistration string         `json:"state_registration" validate:"required"`
	Regime            string         `json:"regime" validate:"required,oneof=1 2 3 4"`
	Address           AddressRequest `json:"address" validate:"required"`
}

// RecipientRequest destinatario (dest).
type RecipientRequest struct {
	TaxID             string          `json:"tax_id" validate:"required"`
	Name              string          `json:"name" validate:"required,max=60"`
	IEIndicator       string          `json:"ie_indicator" validate:"required,oneof=1 2 9"`
	StateRegistration string          `json:"state_registration,omitempty"`
	Email             string          `json:"email,omitempty" validate:"omitempty,email"`
	Address           *AddressRequest `json:"address,omitempty"`
}

// ItemRequest línea de la venta.
type ItemRequest struct {
	ProductCode       string          `json:"product_code" validate:"required,max=60"`
	Barcode           string          `json:"barcode,omitempty"`
	TaxableBarcode    string          `json:"taxable_barcode,omitempty"`
	Description       string          `json:"description" validate:"required,max=120"`
	NCM               string          `json:"ncm" validate:"required,numeric,len=8"`
	CFOP              string          `json:"cfop" validate:"required,numeric,len=4"`
	Unit              string          `json:"unit" validate:"required,max=6"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitValue         decimal.Decimal `json:"unit_value"`
	TotalValue        decimal.Decimal `json:"total_value"`
	TaxableUnit       string          `json:"taxable_unit,omitempty" validate:"max=6"`
	TaxableQuantity   decimal.Decimal `json:"taxable_quantity"`
	TaxableUnitValue  decimal.Decimal `json:"taxable_unit_value"`
	Freight           decimal.Decimal `json:"freight"`
	Insurance         decimal.Decimal `json:"insurance"`
	Discount          decimal.Decimal `json:"discount"`
	Other             decimal.Decimal `json:"other"`
	Origin            string          `json:"origin" validate:"required,numeric,len=1"`
	ICMSCST           string          `json:"icms_cst" validate:"required,numeric,min=2,max=3"`
	ICMSRate          decimal.Decimal `json:"icms_rate"`
	ICMSBaseReduction decimal.Decimal `json:"icms_base_reduction"`
	PISCST            string          `json:"pis_cst" validate:"required,numeric,len=2"`
	PISRate           decimal.Decimal `json:"pis_rate"`
	COFINSCST         string          `json:"cofins_cst" validate:"required,numeric,len=2"`
	COFINSRate        decimal.Decimal `json:"cofins_rate"`
}

// PaymentRequest forma de pago.
type PaymentRequest struct {
	Method string          `json:"method" validate:"required,numeric,len=2"`
	Amount decimal.Decimal `json:"amount"`
}

// TransportRequest transporte.
type TransportRequest struct {
	Mode         string `json:"mode" validate:"required,oneof=0 1 2 3 4 9"`
	CarrierTaxID string `json:"carrier_tax_id,omitempty"`
	CarrierName  string `json:"carrier_name,omitempty"`
	CarrierUF    string `json:"carrier_uf,omitempty" validate:"omitempty,len=2"`
}

// BatchIssueRequest body para POST /api/nfe/batch.
type BatchIssueRequest struct {
	Sales []IssueRequest `json:"sales" validate:"required,min=1,max=50,dive"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate aplica las reglas de formato de los tags. Las reglas fiscales
// (dígitos verificadores, conciliación de totales) las aplica el compositor.
func Validate(v any) error {
	err := structValidator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// ToSale convierte la solicitud en el registro de venta del dominio.
func (r IssueRequest) ToSale() *entity.Sale {
	sale := &entity.Sale{
		ID: r.SaleID,
		Emitter: entity.Company{
			CNPJ:              r.Emitter.CNPJ,
			Name:              r.Emitter.Name,
			TradeName:         r.Emitter.TradeName,
			StateRegistration: r.Emitter.StateRegistration,
			Regime:            r.Emitter.Regime,
			Address:           r.Emitter.Address.toEntity(),
		},
		Recipient: entity.Customer{
			TaxID:             r.Recipient.TaxID,
			Name:              r.Recipient.Name,
			IEIndicator:       r.Recipient.IEIndicator,
			StateRegistration: r.Recipient.StateRegistration,
			Email:             r.Recipient.Email,
		},
		Change:          r.Change,
		OperationNature: r.OperationNature,
		Series:          r.Series,
		Number:          r.Number,
		Environment:     r.Environment,
		Purpose:         r.Purpose,
		AdditionalInfo:  r.AdditionalInfo,
	}
	if r.Recipient.Address != nil {
		a := r.Recipient.Address.toEntity()
		sale.Recipient.Address = &a
	}
	if r.EmittedAt != nil {
		sale.EmittedAt = *r.EmittedAt
	}
	if r.Transport != nil {
		sale.Transport = entity.Transport{
			Mode:         r.Transport.Mode,
			CarrierTaxID: r.Transport.CarrierTaxID,
			CarrierName:  r.Transport.CarrierName,
			CarrierUF:    r.Transport.CarrierUF,
		}
	}
	sale.Items = make([]entity.SaleItem, len(r.Items))
	for i, it := range r.Items {
		taxableUnit := it.TaxableUnit
		if taxableUnit == "" {
			taxableUnit = it.Unit
		}
		taxableQty := it.TaxableQuantity
		if taxableQty.IsZero() {
			taxableQty = it.Quantity
		}
		sale.Items[i] = entity.SaleItem{
			ProductCode:        it.ProductCode,
			Barcode:            it.Barcode,
			TaxableBarcode:     it.TaxableBarcode,
			Description:        it.Description,
			NCM:                it.NCM,
			CFOP:               it.CFOP,
			CommercialUnit:     it.Unit,
			CommercialQuantity: it.Quantity,
			UnitValue:          it.UnitValue,
			TotalValue:         it.TotalValue,
			TaxableUnit:        taxableUnit,
			TaxableQuantity:    taxableQty,
			TaxableUnitValue:   it.TaxableUnitValue,
			Freight:            it.Freight,
			Insurance:          it.Insurance,
			Discount:           it.Discount,
			Other:              it.Other,
			Origin:             it.Origin,
			ICMSCST:            it.ICMSCST,
			ICMSRate:           it.ICMSRate,
			ICMSBaseReduction:  it.ICMSBaseReduction,
			PISCST:             it.PISCST,
			PISRate:            it.PISRate,
			COFINSCST:          it.COFINSCST,
			COFINSRate:         it.COFINSRate,
		}
	}
	sale.Payments = make([]entity.Payment, len(r.Payments))
	for i, p := range r.Payments {
		sale.Payments[i] = entity.Payment{Method: p.Method, Amount: p.Amount}
	}
	return sale
}

func (a AddressRequest) toEntity() entity.Address {
	return entity.Address{
		Street:     a.Street,
		Number:     a.Number,
		Complement: a.Complement,
		District:   a.District,
		CityCode:   a.CityCode,
		CityName:   a.CityName,
		UF:         strings.ToUpper(a.UF),
		ZipCode:    a.ZipCode,
		Phone:      a.Phone,
	}
}

// DocumentResponse registro de estado de la NF-e para GET /api/nfe/:key.
type DocumentResponse struct {
	ID              string               `json:"id"`
	SaleID          string               `json:"sale_id,omitempty"`
	AccessKey       string               `json:"access_key"`
	Series          string               `json:"series"`
	Number          string               `json:"number"`
	Environment     string               `json:"environment"`
	Status          string               `json:"status"` // ASSEMBLED|SIGNED|SUBMITTING|PENDING|AUTHORIZED|REJECTED|FAILED
	Protocol        string               `json:"protocol,omitempty"`
	RejectionCode   string               `json:"rejection_code,omitempty"`
	RejectionReason string               `json:"rejection_reason,omitempty"`
	Attempts        int                  `json:"attempts"`
	RetryTimestamps []time.Time          `json:"retry_timestamps,omitempty"`
	EmittedAt       time.Time            `json:"emitted_at"`
	History         []TransitionResponse `json:"history"`
	Error           string               `json:"error,omitempty"`
}

// TransitionResponse cambio de estado con su instante.
type TransitionResponse struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// NewDocumentResponse arma la respuesta desde el documento del dominio.
func NewDocumentResponse(fd *nfedomain.FiscalDocument) DocumentResponse {
	out := DocumentResponse{
		ID:              fd.ID,
		SaleID:          fd.SaleID,
		AccessKey:       fd.AccessKey.String(),
		Series:          fd.Series,
		Number:          fd.Number,
		Environment:     fd.Environment,
		Status:          string(fd.Status),
		Protocol:        fd.Protocol,
		RejectionCode:   fd.RejectionCode,
		RejectionReason: fd.RejectionReason,
		Attempts:        fd.Attempts,
		RetryTimestamps: fd.RetryTimestamps,
		EmittedAt:       fd.EmittedAt,
		History:         make([]TransitionResponse, 0, len(fd.History)),
	}
	for _, t := range fd.History {
		out.History = append(out.History, TransitionResponse{
			From: string(t.From), To: string(t.To), At: t.At, Detail: t.Detail,
		})
	}
	return out
}

// BatchItemResponse resultado de una venta del lote.
type BatchItemResponse struct {
	SaleID   string            `json:"sale_id,omitempty"`
	Document *DocumentResponse `json:"document,omitempty"`
	Error    *ErrorResponse    `json:"error,omitempty"`
}
