package emission

import (
	"context"

	nfedomain "github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	"github.com/jhoicas/nfe-emissor/internal/domain/repository"
)

// XMLBuilder serializa el documento compuesto en el leiaute de la NF-e.
type XMLBuilder interface {
	Build(fd *nfedomain.FiscalDocument) ([]byte, error)
}

// TxRunner ejecuta fn con un repositorio atado a una transacción.
type TxRunner interface {
	Run(ctx context.Context, fn func(docs repository.FiscalDocumentRepository) error) error
}

// DANFEGenerator genera la representación gráfica a partir del XML autorizado.
type DANFEGenerator interface {
	Generate(ctx context.Context, xmlBytes []byte) ([]byte, error)
}

// ProcBuilder arma el nfeProc (NFe firmado + protNFe).
type ProcBuilder func(signedXML, protXML []byte) ([]byte, error)
