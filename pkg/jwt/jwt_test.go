package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateParse_RoundTrip(t *testing.T) {
	token, err := Generate("s3cr3t", "erp-1", "11222333000181", "emitter", "nfe-emissor", time.Hour)
	require.NoError(t, err)

	id, err := Parse("s3cr3t", "nfe-emissor", token)
	require.NoError(t, err)
	assert.Equal(t, "erp-1", id.Subject)
	assert.Equal(t, "11222333000181", id.CNPJ)
	assert.Equal(t, "emitter", id.Role)
}

func TestParse_WrongSecret(t *testing.T) {
	token, err := Generate("s3cr3t", "erp-1", "11222333000181", "emitter", "", time.Hour)
	require.NoError(t, err)

	_, err = Parse("otro", "", token)
	assert.Error(t, err)
}

func TestParse_Expired(t *testing.T) {
	token, err := Generate("s3cr3t", "erp-1", "11222333000181", "emitter", "", -time.Minute)
	require.NoError(t, err)

	_, err = Parse("s3cr3t", "", token)
	assert.Error(t, err)
}

func TestParse_WrongIssuer(t *testing.T) {
	token, err := Generate("s3cr3t", "erp-1", "11222333000181", "emitter", "otro", time.Hour)
	require.NoError(t, err)

	_, err = Parse("s3cr3t", "nfe-emissor", token)
	assert.Error(t, err)
}

func TestParse_MissingCNPJ(t *testing.T) {
	token, err := Generate("s3cr3t", "erp-1", "", "emitter", "", time.Hour)
	require.NoError(t, err)

	_, err = Parse("s3cr3t", "", token)
	assert.Error(t, err)
}
