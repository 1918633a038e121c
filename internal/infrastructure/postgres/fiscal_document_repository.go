package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jhoicas/nfe-emissor/internal/domain"
	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	"github.com/jhoicas/nfe-emissor/internal/domain/repository"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

var _ repository.FiscalDocumentRepository = (*FiscalDocumentRepo)(nil)

// FiscalDocumentRepo implementación de FiscalDocumentRepository (usable con pool o tx).
// Con pool, Create y Save abren su propia transacción.
type FiscalDocumentRepo struct {
	q Querier
}

// NewFiscalDocumentRepository construye el adaptador. Pasar pool o tx (Querier).
func NewFiscalDocumentRepository(q Querier) *FiscalDocumentRepo {
	return &FiscalDocumentRepo{q: q}
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// inTx ejecuta fn dentro de una transacción si el Querier es un pool; si ya es una tx, la reutiliza.
func (r *FiscalDocumentRepo) inTx(ctx context.Context, fn func(q Querier) error) error {
	b, ok := r.q.(txBeginner)
	if !ok {
		return fn(r.q)
	}
	if _, isTx := r.q.(pgx.Tx); isTx {
		return fn(r.q)
	}
	return pgx.BeginFunc(ctx, b, func(tx pgx.Tx) error { return fn(tx) })
}

const documentColumns = `id, sale_id, access_key, emitter_cnpj, series, number, environment, emitted_at,
	status, protocol, rejection_code, rejection_reason, signed_xml, proc_xml, attempts,
	retry_timestamps, created_at, updated_at`

// Create persiste el documento y su historial.
func (r *FiscalDocumentRepo) Create(ctx context.Context, doc *nfe.FiscalDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	return r.inTx(ctx, func(q Querier) error {
		query := `
		INSERT INTO fiscal_documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
		_, err := q.Exec(ctx, query,
			doc.ID, doc.SaleID, doc.AccessKey.String(), doc.EmitterCNPJ, doc.Series, doc.Number,
			doc.Environment, doc.EmittedAt, string(doc.Status),
			nullIfEmpty(doc.Protocol), nullIfEmpty(doc.RejectionCode), nullIfEmpty(doc.RejectionReason),
			nullIfEmpty(string(doc.SignedXML)), nullIfEmpty(string(doc.ProcXML)),
			doc.Attempts, retryTimestamps(doc), doc.CreatedAt, doc.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: documento %s serie %s número %s ya existe", domain.ErrDuplicate, doc.AccessKey, doc.Series, doc.Number)
			}
			return fmt.Errorf("insert fiscal document: %w", err)
		}
		return insertTransitions(ctx, q, doc)
	})
}

// Save actualiza los campos mutables y agrega las transiciones nuevas.
func (r *FiscalDocumentRepo) Save(ctx context.Context, doc *nfe.FiscalDocument) error {
	return r.inTx(ctx, func(q Querier) error {
		query := `
		UPDATE fiscal_documents
		SET status           = $2,
		    protocol         = COALESCE($3, protocol),
		    rejection_code   = $4,
		    rejection_reason = $5,
		    signed_xml       = COALESCE($6, signed_xml),
		    proc_xml         = COALESCE($7, proc_xml),
		    attempts         = $8,
		    retry_timestamps = $9,
		    updated_at       = $10
		WHERE id = $1`
		tag, err := q.Exec(ctx, query,
			doc.ID, string(doc.Status), nullIfEmpty(doc.Protocol),
			nullIfEmpty(doc.RejectionCode), nullIfEmpty(doc.RejectionReason),
			nullIfEmpty(string(doc.SignedXML)), nullIfEmpty(string(doc.ProcXML)),
			doc.Attempts, retryTimestamps(doc), doc.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update fiscal document: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: documento %s", domain.ErrNotFound, doc.AccessKey)
		}
		return insertTransitions(ctx, q, doc)
	})
}

// insertTransitions inserta doc.History usando la posición como seq; las ya persistidas se ignoran.
func insertTransitions(ctx context.Context, q Querier, doc *nfe.FiscalDocument) error {
	query := `
		INSERT INTO fiscal_document_transitions (document_id, seq, from_status, to_status, at, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (document_id, seq) DO NOTHING`
	for i, t := range doc.History {
		if _, err := q.Exec(ctx, query, doc.ID, i, string(t.From), string(t.To), t.At, t.Detail); err != nil {
			return fmt.Errorf("insert transition %d: %w", i, err)
		}
	}
	return nil
}

// GetByAccessKey devuelve el documento por su clave de 44 dígitos.
func (r *FiscalDocumentRepo) GetByAccessKey(ctx context.Context, key string) (*nfe.FiscalDocument, error) {
	return r.getOne(ctx, `SELECT `+documentColumns+` FROM fiscal_documents WHERE access_key = $1`, key)
}

// GetByID devuelve el documento por id.
func (r *FiscalDocumentRepo) GetByID(ctx context.Context, id string) (*nfe.FiscalDocument, error) {
	return r.getOne(ctx, `SELECT `+documentColumns+` FROM fiscal_documents WHERE id = $1`, id)
}

func (r *FiscalDocumentRepo) getOne(ctx context.Context, query string, arg any) (*nfe.FiscalDocument, error) {
	doc, err := scanDocument(r.q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fiscal document: %w", err)
	}
	if err := r.loadHistory(ctx, []*nfe.FiscalDocument{doc}); err != nil {
		return nil, err
	}
	return doc, nil
}

// ListResumable documentos pendientes de respuesta de la SEFAZ, en orden de numeración.
func (r *FiscalDocumentRepo) ListResumable(ctx context.Context, staleBefore time.Time, limit int) ([]*nfe.FiscalDocument, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + documentColumns + ` FROM fiscal_documents
		WHERE status IN ($1, $2, $3) AND updated_at < $4
		ORDER BY emitter_cnpj, series, number::BIGINT
		LIMIT $5`
	rows, err := r.q.Query(ctx, query,
		string(nfe.StatusSigned), string(nfe.StatusSubmitting), string(nfe.StatusPending), staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list resumable: %w", err)
	}
	defer rows.Close()
	var docs []*nfe.FiscalDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fiscal document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadHistory(ctx, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *FiscalDocumentRepo) loadHistory(ctx context.Context, docs []*nfe.FiscalDocument) error {
	if len(docs) == 0 {
		return nil
	}
	byID := make(map[string]*nfe.FiscalDocument, len(docs))
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
		ids = append(ids, d.ID)
	}
	rows, err := r.q.Query(ctx, `
		SELECT document_id, from_status, to_status, at, detail
		FROM fiscal_document_transitions
		WHERE document_id = ANY($1::uuid[])
		ORDER BY document_id, seq`, ids)
	if err != nil {
		return fmt.Errorf("load transitions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			docID, from, to, detail string
			at                      time.Time
		)
		if err := rows.Scan(&docID, &from, &to, &at, &detail); err != nil {
			return fmt.Errorf("scan transition: %w", err)
		}
		if d := byID[docID]; d != nil {
			d.History = append(d.History, nfe.Transition{
				From: nfe.Status(from), To: nfe.Status(to), At: at, Detail: detail,
			})
		}
	}
	return rows.Err()
}

func scanDocument(row pgx.Row) (*nfe.FiscalDocument, error) {
	var (
		d                                          nfe.FiscalDocument
		key, status                                string
		protocol, rejCode, rejReason, signed, proc *string
	)
	err := row.Scan(
		&d.ID, &d.SaleID, &key, &d.EmitterCNPJ, &d.Series, &d.Number, &d.Environment, &d.EmittedAt,
		&status, &protocol, &rejCode, &rejReason, &signed, &proc, &d.Attempts,
		&d.RetryTimestamps, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.AccessKey = pkgnfe.AccessKey(key)
	d.Status = nfe.Status(status)
	d.Protocol = deref(protocol)
	d.RejectionCode = deref(rejCode)
	d.RejectionReason = deref(rejReason)
	if signed != nil {
		d.SignedXML = []byte(*signed)
	}
	if proc != nil {
		d.ProcXML = []byte(*proc)
	}
	return &d, nil
}

func retryTimestamps(doc *nfe.FiscalDocument) []time.Time {
	if doc.RetryTimestamps == nil {
		return []time.Time{}
	}
	return doc.RetryTimestamps
}
