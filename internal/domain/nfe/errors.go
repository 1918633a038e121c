package nfe

import (
	"errors"
	"fmt"
	"strings"

	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// Errores de emisión. Cada tipo concreto responde a errors.Is con su centinela.
var (
	ErrIncompleteData       = errors.New("nfe: datos obligatorios incompletos")
	ErrValidation           = errors.New("nfe: datos inválidos")
	ErrInvalidCredential    = errors.New("nfe: credencial de firma inválida")
	ErrAuthorityRejected    = errors.New("nfe: documento rechazado por la SEFAZ")
	ErrAuthorityUnavailable = errors.New("nfe: SEFAZ no disponible")
	ErrInvalidTransition    = errors.New("nfe: transición de estado no permitida")
)

// IncompleteDataError falta un campo obligatorio. Item = 0 cuando no aplica a un ítem.
type IncompleteDataError struct {
	AccessKey pkgnfe.AccessKey
	Item      int
	Field     string
}

func (e *IncompleteDataError) Error() string {
	return "nfe: campo obligatorio ausente: " + e.Field + errContext(e.AccessKey, e.Item)
}

func (e *IncompleteDataError) Is(target error) bool { return target == ErrIncompleteData }

// ValidationError dato presente pero inconsistente.
type ValidationError struct {
	AccessKey pkgnfe.AccessKey
	Item      int
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("nfe: %s inválido: %s%s", e.Field, e.Reason, errContext(e.AccessKey, e.Item))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidCredentialError la credencial no puede firmar (clave incorrecta, vencida...).
// No debe reintentarse con la misma credencial.
type InvalidCredentialError struct {
	AccessKey pkgnfe.AccessKey
	Reason    string
	Err       error
}

func (e *InvalidCredentialError) Error() string {
	msg := "nfe: credencial inválida: " + e.Reason + errContext(e.AccessKey, 0)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidCredentialError) Is(target error) bool { return target == ErrInvalidCredential }

func (e *InvalidCredentialError) Unwrap() error { return e.Err }

// AuthorityRejectedError rechazo definitivo de la SEFAZ; Code y Reason se exponen sin cambios.
type AuthorityRejectedError struct {
	AccessKey pkgnfe.AccessKey
	Code      string
	Reason    string
}

func (e *AuthorityRejectedError) Error() string {
	return fmt.Sprintf("nfe: rechazo %s: %s%s", e.Code, e.Reason, errContext(e.AccessKey, 0))
}

func (e *AuthorityRejectedError) Is(target error) bool { return target == ErrAuthorityRejected }

// AuthorityUnavailableError la SEFAZ no respondió en firme tras agotar los reintentos.
type AuthorityUnavailableError struct {
	AccessKey pkgnfe.AccessKey
	Attempts  int // envíos realizados
	Retries   int // ciclos de espera consumidos (reenvíos y consultas)
	Err       error
}

func (e *AuthorityUnavailableError) Error() string {
	msg := fmt.Sprintf("nfe: SEFAZ no disponible tras %d envíos y %d reintentos%s", e.Attempts, e.Retries, errContext(e.AccessKey, 0))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthorityUnavailableError) Is(target error) bool { return target == ErrAuthorityUnavailable }

func (e *AuthorityUnavailableError) Unwrap() error { return e.Err }

func errContext(key pkgnfe.AccessKey, item int) string {
	var parts []string
	if key != "" {
		parts = append(parts, "clave "+key.String())
	}
	if item > 0 {
		parts = append(parts, fmt.Sprintf("ítem %d", item))
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
