package nfe

import (
	"fmt"
	"time"

	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// Status estado del documento fiscal.
type Status string

// Estados del ciclo de vida. Submitting y Pending son reanudables; Authorized,
// Rejected y Failed son terminales.
const (
	StatusDraft      Status = "DRAFT"
	StatusAssembled  Status = "ASSEMBLED"
	StatusSigned     Status = "SIGNED"
	StatusSubmitting Status = "SUBMITTING"
	StatusPending    Status = "PENDING"
	StatusAuthorized Status = "AUTHORIZED"
	StatusRejected   Status = "REJECTED"
	StatusFailed     Status = "FAILED"
)

var allowedTransitions = map[Status][]Status{
	StatusDraft:      {StatusAssembled, StatusFailed},
	StatusAssembled:  {StatusSigned, StatusFailed},
	StatusSigned:     {StatusSubmitting, StatusFailed},
	StatusSubmitting: {StatusAuthorized, StatusRejected, StatusPending, StatusFailed},
	StatusPending:    {StatusSubmitting, StatusAuthorized, StatusRejected, StatusFailed},
}

// IsTerminal indica que el documento no admite más transiciones.
func (s Status) IsTerminal() bool {
	return s == StatusAuthorized || s == StatusRejected || s == StatusFailed
}

// IsResumable indica que el documento quedó a la espera de respuesta de la SEFAZ
// y debe consultarse antes de reenviarse.
func (s Status) IsResumable() bool {
	return s == StatusSubmitting || s == StatusPending
}

// CanTransition indica si from → to es una transición válida.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition registro de un cambio de estado.
type Transition struct {
	From   Status
	To     Status
	At     time.Time
	Detail string
}

// FiscalDocument documento fiscal con su clave, estado y artefactos firmados.
// Antes de Submitting lo posee el compositor; desde Submitting, el coordinador de envío.
type FiscalDocument struct {
	ID              string
	SaleID          string
	Doc             *Document
	AccessKey       pkgnfe.AccessKey
	EmitterCNPJ     string
	Series          string
	Number          string
	Environment     string
	EmittedAt       time.Time
	Status          Status
	Protocol        string // nProt asignado por la SEFAZ
	RejectionCode   string
	RejectionReason string
	SignedXML       []byte
	ProcXML         []byte // nfeProc (NFe + protNFe), solo autorizado
	Attempts        int
	RetryTimestamps []time.Time
	History         []Transition
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TransitionTo cambia el estado registrando la transición. Devuelve ErrInvalidTransition
// si el cambio no está permitido.
func (d *FiscalDocument) TransitionTo(to Status, at time.Time, detail string) error {
	if !CanTransition(d.Status, to) {
		return fmt.Errorf("%w: %s → %s (clave %s)", ErrInvalidTransition, d.Status, to, d.AccessKey)
	}
	d.History = append(d.History, Transition{From: d.Status, To: to, At: at, Detail: detail})
	d.Status = to
	d.UpdatedAt = at
	return nil
}

// RecordRetry registra el instante de un reintento de envío.
func (d *FiscalDocument) RecordRetry(at time.Time) {
	d.RetryTimestamps = append(d.RetryTimestamps, at)
}

// LastTransition última transición registrada, o nil.
func (d *FiscalDocument) LastTransition() *Transition {
	if len(d.History) == 0 {
		return nil
	}
	return &d.History[len(d.History)-1]
}
