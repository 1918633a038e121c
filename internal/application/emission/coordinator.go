package emission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jhoicas/nfe-emissor/internal/domain"
	nfedomain "github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	"github.com/jhoicas/nfe-emissor/internal/domain/repository"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/telemetry"
	"github.com/jhoicas/nfe-emissor/pkg/logger"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// RetryPolicy política de reenvío ante respuestas Pending.
type RetryPolicy struct {
	MaxRetries     int           // reenvíos tras el primer Pending; agotados → FAILED
	Initial        time.Duration // primer intervalo de espera
	Max            time.Duration // tope del intervalo
	RequestTimeout time.Duration // timeout de cada llamada a la SEFAZ
}

// DefaultRetryPolicy 5 reenvíos, espera exponencial de 2 s a 1 min, 30 s por solicitud.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, Initial: 2 * time.Second, Max: time.Minute, RequestTimeout: 30 * time.Second}
}

// Coordinator conduce la máquina de estados del envío a la SEFAZ:
//
//	SIGNED → SUBMITTING → {AUTHORIZED | REJECTED | PENDING}
//	PENDING → SUBMITTING (hasta MaxRetries) → {AUTHORIZED | REJECTED | FAILED}
//
// Todos los intentos reutilizan la misma clave y los mismos bytes firmados. Cada
// cambio de estado se persiste antes de la siguiente llamada de red. Ningún
// lock se mantiene durante la espera de la red.
type Coordinator struct {
	channel pkgnfe.Channel
	store   repository.FiscalDocumentRepository
	policy  RetryPolicy
	proc    ProcBuilder
	metrics *telemetry.EmissionMetrics
	log     *logger.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	inFlight map[pkgnfe.AccessKey]struct{}
}

// CoordinatorOption configura el Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorClock reemplaza el reloj (tests).
func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// WithSleep reemplaza la espera entre reintentos (tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) CoordinatorOption {
	return func(c *Coordinator) { c.sleep = sleep }
}

// WithMetrics registra métricas de envío.
func WithMetrics(m *telemetry.EmissionMetrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithProcBuilder define cómo se arma el nfeProc al autorizar; nil lo desactiva.
func WithProcBuilder(p ProcBuilder) CoordinatorOption {
	return func(c *Coordinator) { c.proc = p }
}

// NewCoordinator construye el coordinador.
func NewCoordinator(
	channel pkgnfe.Channel,
	store repository.FiscalDocumentRepository,
	policy RetryPolicy,
	log *logger.Logger,
	opts ...CoordinatorOption,
) *Coordinator {
	if log == nil {
		log = logger.Nop()
	}
	c := &Coordinator{
		channel:  channel,
		store:    store,
		policy:   policy,
		log:      log,
		now:      time.Now,
		sleep:    sleepContext,
		inFlight: make(map[pkgnfe.AccessKey]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit envía un documento en SIGNED y lo lleva a un estado terminal o reanudable.
// Si ctx se cancela durante la llamada, el documento queda en SUBMITTING y debe
// reanudarse con Resume (consulta antes de reenviar).
func (c *Coordinator) Submit(ctx context.Context, fd *nfedomain.FiscalDocument) error {
	if fd.Status != nfedomain.StatusSigned {
		return fmt.Errorf("%w: Submit requiere SIGNED, documento en %s", nfedomain.ErrInvalidTransition, fd.Status)
	}
	return c.guard(fd, func() error { return c.drive(ctx, fd, false) })
}

// Resume retoma un documento en SUBMITTING o PENDING: primero consulta la situación
// en la SEFAZ y solo reenvía si la SEFAZ no conoce la clave.
func (c *Coordinator) Resume(ctx context.Context, fd *nfedomain.FiscalDocument) error {
	if !fd.Status.IsResumable() {
		return fmt.Errorf("%w: Resume requiere SUBMITTING o PENDING, documento en %s", nfedomain.ErrInvalidTransition, fd.Status)
	}
	return c.guard(fd, func() error { return c.drive(ctx, fd, true) })
}

// guard impide que dos goroutines conduzcan el mismo documento a la vez.
func (c *Coordinator) guard(fd *nfedomain.FiscalDocument, fn func() error) error {
	c.mu.Lock()
	if _, busy := c.inFlight[fd.AccessKey]; busy {
		c.mu.Unlock()
		return fmt.Errorf("%w: documento %s ya en envío", domain.ErrConflict, fd.AccessKey)
	}
	c.inFlight[fd.AccessKey] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inFlight, fd.AccessKey)
		c.mu.Unlock()
	}()
	return fn()
}

func (c *Coordinator) drive(ctx context.Context, fd *nfedomain.FiscalDocument, queryFirst bool) error {
	b := c.newBackOff()
	retries := 0
	cycleRecorded := false // el ciclo de espera actual ya tiene su marca de reintento
	var lastErr error

	for {
		var (
			res *pkgnfe.SubmitResult
			err error
		)
		queried := queryFirst
		if queried {
			res, err = c.call(ctx, "query", func(rctx context.Context) (*pkgnfe.SubmitResult, error) {
				return c.channel.Query(rctx, fd.AccessKey)
			})
		} else {
			if err := c.enterSubmitting(ctx, fd, fd.Attempts > 0 && !cycleRecorded); err != nil {
				return err
			}
			cycleRecorded = false
			res, err = c.call(ctx, "submit", func(rctx context.Context) (*pkgnfe.SubmitResult, error) {
				return c.channel.Submit(rctx, fd.SignedXML)
			})
		}

		if err != nil {
			if ctx.Err() != nil {
				// cancelado: el documento queda reanudable tal como está
				c.persist(ctx, fd)
				c.log.Warn().Str("access_key", fd.AccessKey.String()).Str("status", string(fd.Status)).
					Msg("envío cancelado; el documento debe consultarse al reanudar")
				return ctx.Err()
			}
			// error de transporte: la SEFAZ pudo haber recibido el lote
			lastErr = err
			res = &pkgnfe.SubmitResult{Outcome: pkgnfe.OutcomePending, Reason: err.Error()}
			queryFirst = true
		} else {
			queryFirst = stillProcessing(res)
		}

		switch res.Outcome {
		case pkgnfe.OutcomeAccepted:
			return c.authorize(ctx, fd, res)
		case pkgnfe.OutcomeRejected:
			return c.reject(ctx, fd, res)
		case pkgnfe.OutcomeNotFound:
			queryFirst = false
			if queried {
				// la consulta no conoce la clave: un reenvío inmediato con los mismos bytes
				continue
			}
			// un envío respondido con NotFound cuenta como reintento con espera
		}

		if fd.Status == nfedomain.StatusSubmitting {
			if err := fd.TransitionTo(nfedomain.StatusPending, c.now(), describe(res)); err != nil {
				return err
			}
		}
		if retries >= c.policy.MaxRetries {
			return c.fail(ctx, fd, retries, lastErr)
		}
		retries++
		fd.RecordRetry(c.now())
		cycleRecorded = true
		if err := c.save(ctx, fd); err != nil {
			return err
		}
		wait := b.NextBackOff()
		c.log.Info().Str("access_key", fd.AccessKey.String()).Int("attempt", fd.Attempts).Int("retry", retries).
			Str("cstat", res.Code).Dur("wait", wait).Msg("SEFAZ sin respuesta definitiva, reintentando")
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
		c.metrics.Retry()
	}
}

// enterSubmitting pasa a SUBMITTING y lo persiste antes de salir a la red:
// una caída deja el documento reanudable. recordRetry marca un reenvío que no
// viene de un ciclo de espera (reanudación sin que la SEFAZ conozca la clave).
func (c *Coordinator) enterSubmitting(ctx context.Context, fd *nfedomain.FiscalDocument, recordRetry bool) error {
	now := c.now()
	if fd.Status != nfedomain.StatusSubmitting {
		if err := fd.TransitionTo(nfedomain.StatusSubmitting, now, ""); err != nil {
			return err
		}
	}
	if recordRetry {
		fd.RecordRetry(now)
	}
	fd.Attempts++
	c.log.Debug().Str("access_key", fd.AccessKey.String()).Int("attempt", fd.Attempts).Msg("enviando NF-e")
	return c.save(ctx, fd)
}

func (c *Coordinator) call(ctx context.Context, op string, fn func(context.Context) (*pkgnfe.SubmitResult, error)) (*pkgnfe.SubmitResult, error) {
	rctx := ctx
	if c.policy.RequestTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, c.policy.RequestTimeout)
		defer cancel()
	}
	start := time.Now()
	res, err := fn(rctx)
	if err == nil && res == nil {
		err = fmt.Errorf("canal %s: respuesta vacía", op)
	}
	outcome := ""
	if res != nil {
		outcome = res.Outcome.String()
	}
	c.metrics.ObserveChannel(op, outcome, time.Since(start), err)
	return res, err
}

func (c *Coordinator) authorize(ctx context.Context, fd *nfedomain.FiscalDocument, res *pkgnfe.SubmitResult) error {
	fd.Protocol = res.Protocol
	fd.RejectionCode, fd.RejectionReason = "", ""
	if c.proc != nil && len(res.ProtocolXML) > 0 {
		proc, err := c.proc(fd.SignedXML, res.ProtocolXML)
		if err != nil {
			// la autorización vale igual; el nfeProc puede rearmarse con una consulta
			c.log.Error().Err(err).Str("access_key", fd.AccessKey.String()).Msg("no se pudo armar el nfeProc")
		} else {
			fd.ProcXML = proc
		}
	}
	if err := fd.TransitionTo(nfedomain.StatusAuthorized, c.now(), describe(res)); err != nil {
		return err
	}
	c.metrics.DocumentStatus(string(fd.Status))
	c.log.Info().Str("access_key", fd.AccessKey.String()).Str("protocol", fd.Protocol).
		Int("attempt", fd.Attempts).Msg("NF-e autorizada")
	return c.save(ctx, fd)
}

func (c *Coordinator) reject(ctx context.Context, fd *nfedomain.FiscalDocument, res *pkgnfe.SubmitResult) error {
	fd.RejectionCode = res.Code
	fd.RejectionReason = res.Reason
	if err := fd.TransitionTo(nfedomain.StatusRejected, c.now(), describe(res)); err != nil {
		return err
	}
	c.metrics.DocumentStatus(string(fd.Status))
	c.log.Warn().Str("access_key", fd.AccessKey.String()).Str("cstat", res.Code).
		Str("reason", res.Reason).Msg("NF-e rechazada")
	if err := c.save(ctx, fd); err != nil {
		return err
	}
	return &nfedomain.AuthorityRejectedError{AccessKey: fd.AccessKey, Code: res.Code, Reason: res.Reason}
}

func (c *Coordinator) fail(ctx context.Context, fd *nfedomain.FiscalDocument, retries int, cause error) error {
	detail := fmt.Sprintf("reintentos agotados (%d reintentos, %d envíos)", retries, fd.Attempts)
	if err := fd.TransitionTo(nfedomain.StatusFailed, c.now(), detail); err != nil {
		return err
	}
	c.metrics.DocumentStatus(string(fd.Status))
	c.log.Error().Str("access_key", fd.AccessKey.String()).Int("attempt", fd.Attempts).Msg(detail)
	if err := c.save(ctx, fd); err != nil {
		return err
	}
	return &nfedomain.AuthorityUnavailableError{AccessKey: fd.AccessKey, Attempts: fd.Attempts, Retries: retries, Err: cause}
}

func (c *Coordinator) save(ctx context.Context, fd *nfedomain.FiscalDocument) error {
	if err := c.store.Save(ctx, fd); err != nil {
		return fmt.Errorf("persistir documento %s: %w", fd.AccessKey, err)
	}
	return nil
}

// persist guarda el estado aunque ctx esté cancelado.
func (c *Coordinator) persist(ctx context.Context, fd *nfedomain.FiscalDocument) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.store.Save(sctx, fd); err != nil {
		c.log.Error().Err(err).Str("access_key", fd.AccessKey.String()).Msg("no se pudo persistir el estado")
	}
}

func (c *Coordinator) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.policy.Initial > 0 {
		b.InitialInterval = c.policy.Initial
	}
	if c.policy.Max > 0 {
		b.MaxInterval = c.policy.Max
	}
	b.MaxElapsedTime = 0 // el tope lo da MaxRetries
	b.Reset()
	return b
}

// stillProcessing lote recibido o en procesamiento: conviene consultar en vez de reenviar.
func stillProcessing(res *pkgnfe.SubmitResult) bool {
	return res.Code == "103" || res.Code == "105" || res.Receipt != ""
}

func describe(res *pkgnfe.SubmitResult) string {
	if res.Code == "" {
		return res.Reason
	}
	return fmt.Sprintf("cStat %s: %s", res.Code, res.Reason)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
