package repository

import (
	"context"
	"time"

	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
)

// FiscalDocumentRepository define el puerto de persistencia de documentos fiscales
// y de su historial de transiciones.
type FiscalDocumentRepository interface {
	// Create persiste un documento nuevo con sus transiciones iniciales.
	Create(ctx context.Context, doc *nfe.FiscalDocument) error
	// Save actualiza estado, protocolo y artefactos, y agrega las transiciones
	// aún no persistidas de doc.History.
	Save(ctx context.Context, doc *nfe.FiscalDocument) error
	// GetByAccessKey devuelve nil, nil si la clave no existe.
	GetByAccessKey(ctx context.Context, key string) (*nfe.FiscalDocument, error)
	GetByID(ctx context.Context, id string) (*nfe.FiscalDocument, error)
	// ListResumable documentos en Signed, Submitting o Pending sin cambios desde staleBefore,
	// ordenados por emisor, serie y número.
	ListResumable(ctx context.Context, staleBefore time.Time, limit int) ([]*nfe.FiscalDocument, error)
}
