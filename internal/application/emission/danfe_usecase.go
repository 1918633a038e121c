package emission

import (
	"context"
	"fmt"

	"github.com/jhoicas/nfe-emissor/internal/domain"
	nfedomain "github.com/jhoicas/nfe-emissor/internal/domain/nfe"
)

// DANFEUseCase genera el DANFE de una NF-e autorizada.
type DANFEUseCase struct {
	service   *Service
	generator DANFEGenerator
}

// NewDANFEUseCase construye el caso de uso.
func NewDANFEUseCase(service *Service, generator DANFEGenerator) *DANFEUseCase {
	return &DANFEUseCase{service: service, generator: generator}
}

// DownloadDANFE devuelve el PDF y el nombre de archivo sugerido.
//
// Retorna:
//   - domain.ErrNotFound   si la clave no existe.
//   - domain.ErrForbidden  si emitterCNPJ no vacío no coincide con el emisor del documento.
//   - domain.ErrConflict   si la NF-e aún no está autorizada.
func (uc *DANFEUseCase) DownloadDANFE(ctx context.Context, emitterCNPJ, key string) ([]byte, string, error) {
	fd, err := uc.service.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	if emitterCNPJ != "" && emitterCNPJ != fd.EmitterCNPJ {
		return nil, "", domain.ErrForbidden
	}
	if fd.Status != nfedomain.StatusAuthorized {
		return nil, "", fmt.Errorf("%w: NF-e %s en estado %s", domain.ErrConflict, fd.AccessKey, fd.Status)
	}
	xmlBytes := fd.ProcXML
	if len(xmlBytes) == 0 {
		xmlBytes = fd.SignedXML
	}
	pdf, err := uc.generator.Generate(ctx, xmlBytes)
	if err != nil {
		return nil, "", fmt.Errorf("danfe: %w", err)
	}
	return pdf, fmt.Sprintf("NFe%s.pdf", fd.AccessKey), nil
}
