package nfe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
)

func TestTransitionTo_CicloFeliz(t *testing.T) {
	fd := &nfe.FiscalDocument{Status: nfe.StatusDraft}
	path := []nfe.Status{
		nfe.StatusAssembled, nfe.StatusSigned, nfe.StatusSubmitting,
		nfe.StatusPending, nfe.StatusSubmitting, nfe.StatusAuthorized,
	}
	for _, s := range path {
		require.NoError(t, fd.TransitionTo(s, testNow, ""), "→ %s", s)
	}
	assert.Len(t, fd.History, len(path))
	assert.True(t, fd.Status.IsTerminal())
	assert.Equal(t, nfe.StatusAuthorized, fd.LastTransition().To)
}

func TestTransitionTo_Invalida(t *testing.T) {
	fd := &nfe.FiscalDocument{Status: nfe.StatusAssembled}
	err := fd.TransitionTo(nfe.StatusAuthorized, testNow, "")
	assert.ErrorIs(t, err, nfe.ErrInvalidTransition)
	assert.Equal(t, nfe.StatusAssembled, fd.Status, "el estado no cambia si la transición falla")
	assert.Empty(t, fd.History)
}

func TestTransitionTo_TerminalesNoAvanzan(t *testing.T) {
	for _, s := range []nfe.Status{nfe.StatusAuthorized, nfe.StatusRejected, nfe.StatusFailed} {
		fd := &nfe.FiscalDocument{Status: s}
		assert.Error(t, fd.TransitionTo(nfe.StatusSubmitting, testNow, ""), "%s es terminal", s)
	}
}

func TestStatus_Reanudables(t *testing.T) {
	assert.True(t, nfe.StatusSubmitting.IsResumable())
	assert.True(t, nfe.StatusPending.IsResumable())
	assert.False(t, nfe.StatusSigned.IsResumable())
	assert.False(t, nfe.StatusAuthorized.IsResumable())
}
