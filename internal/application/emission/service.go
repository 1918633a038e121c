package emission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/nfe-emissor/internal/domain"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	nfedomain "github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	"github.com/jhoicas/nfe-emissor/internal/domain/repository"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/telemetry"
	"github.com/jhoicas/nfe-emissor/pkg/logger"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// Service orquesta la emisión completa:
//
//	Venta → Composición (clave) → XML → Firma → Store → Coordinator (SEFAZ) → nfeProc
//
// Composición, serialización y firma no hacen I/O y pueden correr en paralelo;
// el envío lo conduce el Coordinator.
type Service struct {
	composer    *nfedomain.Composer
	builder     XMLBuilder
	signer      pkgnfe.Signer
	credential  pkgnfe.SigningCredential
	store       repository.FiscalDocumentRepository
	tx          TxRunner // opcional: persistencia atómica de lotes
	coordinator *Coordinator
	metrics     *telemetry.EmissionMetrics
	log         *logger.Logger
	workers     int
	now         func() time.Time
}

// Config parámetros del servicio.
type Config struct {
	Workers int // composición y firma concurrentes en lotes
}

// NewService construye el servicio con todas sus dependencias. tx y metrics pueden ser nil.
func NewService(
	composer *nfedomain.Composer,
	builder XMLBuilder,
	signer pkgnfe.Signer,
	credential pkgnfe.SigningCredential,
	store repository.FiscalDocumentRepository,
	tx TxRunner,
	coordinator *Coordinator,
	metrics *telemetry.EmissionMetrics,
	log *logger.Logger,
	cfg Config,
) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Service{
		composer:    composer,
		builder:     builder,
		signer:      signer,
		credential:  credential,
		store:       store,
		tx:          tx,
		coordinator: coordinator,
		metrics:     metrics,
		log:         log,
		workers:     cfg.Workers,
		now:         time.Now,
	}
}

// Issue emite una venta: compone, firma, persiste y envía. Devuelve el documento
// en su último estado junto con el error de la etapa que falló, si alguna.
// Los errores de composición no producen documento.
func (s *Service) Issue(ctx context.Context, sale *entity.Sale) (*nfedomain.FiscalDocument, error) {
	fd, err := s.prepare(sale)
	if err != nil {
		if fd != nil {
			s.storeFailed(ctx, fd)
		}
		return fd, err
	}
	if err := s.store.Create(ctx, fd); err != nil {
		s.metrics.LocalFailure("store")
		return fd, fmt.Errorf("guardar documento: %w", err)
	}
	return fd, s.coordinator.Submit(ctx, fd)
}

// BatchResult resultado de una venta dentro de un lote.
type BatchResult struct {
	SaleID   string
	Document *nfedomain.FiscalDocument
	Err      error
}

// IssueBatch compone y firma las ventas en paralelo (hasta Workers a la vez) y luego
// envía cada grupo emisor+serie en orden creciente de número. Los resultados
// mantienen el orden de entrada.
func (s *Service) IssueBatch(ctx context.Context, sales []*entity.Sale) []BatchResult {
	results := make([]BatchResult, len(sales))

	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for i, sale := range sales {
		i, sale := i, sale
		results[i].SaleID = saleID(sale)
		g.Go(func() error {
			fd, err := s.prepare(sale)
			results[i].Document, results[i].Err = fd, err
			return nil
		})
	}
	_ = g.Wait()

	var ready []int
	for i, r := range results {
		switch {
		case r.Err == nil:
			ready = append(ready, i)
		case r.Document != nil:
			s.storeFailed(ctx, r.Document)
		}
	}
	if err := s.createAll(ctx, results, ready); err != nil {
		for _, i := range ready {
			results[i].Err = err
		}
		return results
	}

	groups := groupBySeries(results, ready)
	sg := new(errgroup.Group)
	sg.SetLimit(s.workers)
	for _, idx := range groups {
		idx := idx
		sg.Go(func() error {
			for _, i := range idx {
				if ctx.Err() != nil {
					results[i].Err = ctx.Err()
					continue
				}
				results[i].Err = s.coordinator.Submit(ctx, results[i].Document)
			}
			return nil
		})
	}
	_ = sg.Wait()
	return results
}

// ResumePending retoma documentos que quedaron sin respuesta definitiva
// (caída, cancelación o backoff interrumpido). Devuelve cuántos se procesaron.
func (s *Service) ResumePending(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	docs, err := s.store.ListResumable(ctx, s.now().Add(-staleAfter), limit)
	if err != nil {
		return 0, fmt.Errorf("listar reanudables: %w", err)
	}
	done := 0
	for _, fd := range docs {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if err := s.resume(ctx, fd); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			s.log.Warn().Err(err).Str("access_key", fd.AccessKey.String()).Str("status", string(fd.Status)).
				Msg("reanudación sin resultado definitivo")
		}
		done++
	}
	return done, nil
}

// Resume retoma un documento por clave. Un documento terminal se devuelve sin cambios.
func (s *Service) Resume(ctx context.Context, key string) (*nfedomain.FiscalDocument, error) {
	fd, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if fd.Status.IsTerminal() {
		return fd, nil
	}
	return fd, s.resume(ctx, fd)
}

func (s *Service) resume(ctx context.Context, fd *nfedomain.FiscalDocument) error {
	switch {
	case fd.Status == nfedomain.StatusSigned:
		return s.coordinator.Submit(ctx, fd)
	case fd.Status.IsResumable():
		return s.coordinator.Resume(ctx, fd)
	default:
		return fmt.Errorf("%w: documento %s en %s no es reanudable", domain.ErrConflict, fd.AccessKey, fd.Status)
	}
}

// Get devuelve el registro de estado por clave de acceso.
func (s *Service) Get(ctx context.Context, key string) (*nfedomain.FiscalDocument, error) {
	k, err := pkgnfe.ParseAccessKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	fd, err := s.store.GetByAccessKey(ctx, k.String())
	if err != nil {
		return nil, err
	}
	if fd == nil {
		return nil, fmt.Errorf("%w: NF-e %s", domain.ErrNotFound, k)
	}
	return fd, nil
}

// XML devuelve el nfeProc si el documento fue autorizado, o el XML firmado.
func (s *Service) XML(ctx context.Context, key string) ([]byte, error) {
	fd, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(fd.ProcXML) > 0 {
		return fd.ProcXML, nil
	}
	if len(fd.SignedXML) == 0 {
		return nil, fmt.Errorf("%w: NF-e %s sin XML firmado", domain.ErrNotFound, fd.AccessKey)
	}
	return fd.SignedXML, nil
}

// prepare compone, serializa y firma. Si el documento llegó a existir y una etapa
// posterior falla, se devuelve en FAILED junto con el error.
func (s *Service) prepare(sale *entity.Sale) (*nfedomain.FiscalDocument, error) {
	fd, err := s.composer.Compose(sale)
	if err != nil {
		s.metrics.LocalFailure("compose")
		return nil, err
	}
	fd.ID = uuid.New().String()
	log := s.log.With().Str("access_key", fd.AccessKey.String()).
		Str("series", fd.Series).Str("number", fd.Number).Logger()

	unsigned, err := s.builder.Build(fd)
	if err != nil {
		s.metrics.LocalFailure("build")
		return s.failLocal(fd, fmt.Errorf("serializar NF-e %s: %w", fd.AccessKey, err))
	}

	signed, err := s.signer.Sign(unsigned, s.credential, fd.EmittedAt)
	if err != nil {
		s.metrics.LocalFailure("sign")
		var credErr *nfedomain.InvalidCredentialError
		if errors.As(err, &credErr) && credErr.AccessKey == "" {
			credErr.AccessKey = fd.AccessKey
		}
		log.Error().Err(err).Msg("firma fallida")
		return s.failLocal(fd, err)
	}
	fd.SignedXML = signed
	if err := fd.TransitionTo(nfedomain.StatusSigned, s.now(), ""); err != nil {
		return nil, err
	}
	log.Debug().Msg("NF-e compuesta y firmada")
	return fd, nil
}

func (s *Service) failLocal(fd *nfedomain.FiscalDocument, cause error) (*nfedomain.FiscalDocument, error) {
	if err := fd.TransitionTo(nfedomain.StatusFailed, s.now(), cause.Error()); err != nil {
		return nil, errors.Join(cause, err)
	}
	s.metrics.DocumentStatus(string(fd.Status))
	return fd, cause
}

// storeFailed deja registro del documento fallido; la numeración queda consumida.
func (s *Service) storeFailed(ctx context.Context, fd *nfedomain.FiscalDocument) {
	if err := s.store.Create(ctx, fd); err != nil {
		s.log.Error().Err(err).Str("access_key", fd.AccessKey.String()).Msg("no se pudo registrar el documento fallido")
	}
}

func (s *Service) createAll(ctx context.Context, results []BatchResult, idx []int) error {
	create := func(docs repository.FiscalDocumentRepository) error {
		for _, i := range idx {
			if err := docs.Create(ctx, results[i].Document); err != nil {
				return fmt.Errorf("guardar NF-e %s: %w", results[i].Document.AccessKey, err)
			}
		}
		return nil
	}
	if s.tx != nil {
		return s.tx.Run(ctx, create)
	}
	return create(s.store)
}

// groupBySeries agrupa por emisor+serie+ambiente y ordena cada grupo por número.
func groupBySeries(results []BatchResult, idx []int) [][]int {
	byKey := make(map[string][]int)
	var order []string
	for _, i := range idx {
		fd := results[i].Document
		k := fd.EmitterCNPJ + "/" + fd.Series + "/" + fd.Environment
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], i)
	}
	groups := make([][]int, 0, len(order))
	for _, k := range order {
		g := byKey[k]
		sort.SliceStable(g, func(a, b int) bool {
			return number(results[g[a]].Document) < number(results[g[b]].Document)
		})
		groups = append(groups, g)
	}
	return groups
}

func number(fd *nfedomain.FiscalDocument) int64 {
	n, _ := strconv.ParseInt(fd.Number, 10, 64)
	return n
}

func saleID(sale *entity.Sale) string {
	if sale == nil {
		return ""
	}
	return sale.ID
}
