package nfe

import (
	"context"
	"crypto/x509"
	"time"
)

// SigningCredential credencial de firma opaca (certificado A1/A3). El motor nunca
// accede al material de la llave privada.
type SigningCredential interface {
	// Sign firma el digest de data (RSA-SHA1, PKCS#1 v1.5) y devuelve la firma.
	Sign(data []byte) ([]byte, error)
	// IsValidAt indica si el certificado está vigente en el instante dado.
	IsValidAt(t time.Time) bool
	// Certificate certificado público que viaja en KeyInfo.
	Certificate() *x509.Certificate
}

// Signer firma el XML de la NF-e y devuelve el XML con <Signature> como último hijo de <NFe>.
// at es la fecha de emisión del documento; la vigencia de la credencial se evalúa contra ella.
type Signer interface {
	Sign(xmlBytes []byte, cred SigningCredential, at time.Time) ([]byte, error)
}

// Outcome resultado de un envío o consulta a la autoridad.
type Outcome int

const (
	OutcomeAccepted Outcome = iota + 1
	OutcomeRejected
	OutcomePending
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomePending:
		return "pending"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// SubmitResult respuesta interpretada de la SEFAZ.
type SubmitResult struct {
	Outcome     Outcome
	Protocol    string    // nProt, solo si fue autorizada
	Code        string    // cStat
	Reason      string    // xMotivo
	Receipt     string    // nRec, en procesamiento asíncrono
	ReceivedAt  time.Time // dhRecbto
	ProtocolXML []byte    // <protNFe> para armar el nfeProc
}

// Channel canal de envío a la autoridad. La política de reintentos no vive aquí.
type Channel interface {
	// Submit envía el XML firmado.
	Submit(ctx context.Context, signedXML []byte) (*SubmitResult, error)
	// Query consulta la situación de un documento por clave de acceso.
	Query(ctx context.Context, key AccessKey) (*SubmitResult, error)
}
