package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-emissor/internal/domain"
	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	"github.com/jhoicas/nfe-emissor/internal/domain/repository"
	"github.com/jhoicas/nfe-emissor/pkg/config"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// ── helpers ──

// testPool conecta a NFE_TEST_DATABASE_URL y aplica las migraciones; sin la variable el test se omite.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("NFE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("NFE_TEST_DATABASE_URL no definida")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, config.DBConfig{DatabaseURL: url, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

// newDocument documento SIGNED con CNPJ único por test para no chocar entre corridas.
func newDocument(t *testing.T, cnpj, number string, at time.Time) *nfe.FiscalDocument {
	t.Helper()
	key, err := pkgnfe.BuildAccessKey(pkgnfe.AccessKeyFields{
		UFCode: "35", YearMonth: at.Format("0601"), CNPJ: cnpj, Model: pkgnfe.ModelNFe,
		Series: "1", Number: number, EmissionType: pkgnfe.EmissionNormal, ControlCode: "87654321",
	})
	require.NoError(t, err)
	fd := &nfe.FiscalDocument{
		ID:          uuid.New().String(),
		SaleID:      "venta-" + number,
		AccessKey:   key,
		EmitterCNPJ: cnpj,
		Series:      "1",
		Number:      number,
		Environment: pkgnfe.EnvironmentHomologation,
		EmittedAt:   at,
		Status:      nfe.StatusDraft,
		SignedXML:   []byte(`<NFe><infNFe Id="` + key.ID() + `"/></NFe>`),
		CreatedAt:   at,
	}
	require.NoError(t, fd.TransitionTo(nfe.StatusAssembled, at, ""))
	require.NoError(t, fd.TransitionTo(nfe.StatusSigned, at, ""))
	return fd
}

func uniqueCNPJ() string {
	return fmt.Sprintf("%014d", time.Now().UnixNano()%1e14)
}

// ── tests unitarios ──

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("timeout")))
}

func TestNullIfEmptyDeref(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	assert.Equal(t, "x", deref(nullIfEmpty("x")))
	assert.Equal(t, "", deref(nil))
}

func TestRetryTimestamps_NuncaNil(t *testing.T) {
	assert.NotNil(t, retryTimestamps(&nfe.FiscalDocument{}))
}

// ── integración (PostgreSQL) ──

func TestFiscalDocumentRepo_CreateSaveGet(t *testing.T) {
	pool := testPool(t)
	repo := NewFiscalDocumentRepository(pool)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Microsecond)

	fd := newDocument(t, uniqueCNPJ(), "101", at)
	require.NoError(t, repo.Create(ctx, fd))

	require.NoError(t, fd.TransitionTo(nfe.StatusSubmitting, at.Add(time.Second), ""))
	fd.Attempts = 1
	require.NoError(t, fd.TransitionTo(nfe.StatusPending, at.Add(2*time.Second), "108 servicio paralizado"))
	fd.RecordRetry(at.Add(3 * time.Second))
	require.NoError(t, fd.TransitionTo(nfe.StatusSubmitting, at.Add(3*time.Second), ""))
	require.NoError(t, fd.TransitionTo(nfe.StatusAuthorized, at.Add(4*time.Second), ""))
	fd.Protocol = "135260000000001"
	fd.ProcXML = []byte("<nfeProc/>")
	require.NoError(t, repo.Save(ctx, fd))

	got, err := repo.GetByAccessKey(ctx, fd.AccessKey.String())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, nfe.StatusAuthorized, got.Status)
	assert.Equal(t, "135260000000001", got.Protocol)
	assert.Equal(t, fd.SignedXML, got.SignedXML)
	assert.Equal(t, []byte("<nfeProc/>"), got.ProcXML)
	assert.Equal(t, 1, got.Attempts)
	require.Len(t, got.RetryTimestamps, 1)
	assert.True(t, got.RetryTimestamps[0].Equal(at.Add(3*time.Second)))
	require.Len(t, got.History, 6)
	assert.Equal(t, nfe.StatusPending, got.History[3].To)
	assert.Equal(t, "108 servicio paralizado", got.History[3].Detail)

	byID, err := repo.GetByID(ctx, fd.ID)
	require.NoError(t, err)
	assert.Equal(t, fd.AccessKey, byID.AccessKey)
}

func TestFiscalDocumentRepo_NumeroDuplicado(t *testing.T) {
	pool := testPool(t)
	repo := NewFiscalDocumentRepository(pool)
	ctx := context.Background()
	at := time.Now().UTC()
	cnpj := uniqueCNPJ()

	require.NoError(t, repo.Create(ctx, newDocument(t, cnpj, "7", at)))
	err := repo.Create(ctx, newDocument(t, cnpj, "7", at))

	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestFiscalDocumentRepo_Inexistente(t *testing.T) {
	pool := testPool(t)
	repo := NewFiscalDocumentRepository(pool)

	got, err := repo.GetByAccessKey(context.Background(), "35261099999999999999550010000000011876543210")
	require.NoError(t, err)
	assert.Nil(t, got)

	fd := newDocument(t, uniqueCNPJ(), "1", time.Now().UTC())
	assert.ErrorIs(t, repo.Save(context.Background(), fd), domain.ErrNotFound)
}

func TestFiscalDocumentRepo_ListResumableOrdenNumerico(t *testing.T) {
	pool := testPool(t)
	repo := NewFiscalDocumentRepository(pool)
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour)
	cnpj := uniqueCNPJ()

	for _, n := range []string{"10", "9", "100"} {
		fd := newDocument(t, cnpj, n, old)
		fd.UpdatedAt = old
		require.NoError(t, repo.Create(ctx, fd))
	}
	done := newDocument(t, cnpj, "8", old)
	require.NoError(t, done.TransitionTo(nfe.StatusFailed, old, "firma"))
	require.NoError(t, repo.Create(ctx, done))

	docs, err := repo.ListResumable(ctx, time.Now().UTC().Add(-time.Minute), 1000)
	require.NoError(t, err)

	var numbers []string
	for _, d := range docs {
		if d.EmitterCNPJ == cnpj {
			numbers = append(numbers, d.Number)
			assert.Len(t, d.History, 2)
		}
	}
	assert.Equal(t, []string{"9", "10", "100"}, numbers)
}

func TestTxRunner_RollbackDeshaceTodo(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	at := time.Now().UTC()
	cnpj := uniqueCNPJ()
	first := newDocument(t, cnpj, "1", at)

	err := NewTxRunner(pool).Run(ctx, func(docs repository.FiscalDocumentRepository) error {
		require.NoError(t, docs.Create(ctx, first))
		return docs.Create(ctx, newDocument(t, cnpj, "1", at))
	})
	require.ErrorIs(t, err, domain.ErrDuplicate)

	got, err := NewFiscalDocumentRepository(pool).GetByAccessKey(ctx, first.AccessKey.String())
	require.NoError(t, err)
	assert.Nil(t, got, "el rollback no deja documentos del lote")
}
