package signer

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nfedomain "github.com/jhoicas/nfe-emissor/internal/domain/nfe"
)

func TestNewDevCredential_VigenteUnAno(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	cred, err := NewDevCredential("EMISSOR DEV:11222333000181", now)
	require.NoError(t, err)

	assert.True(t, cred.IsValidAt(now))
	assert.True(t, cred.IsValidAt(now.AddDate(0, 11, 0)))
	assert.False(t, cred.IsValidAt(now.AddDate(1, 0, 1)))
	assert.Equal(t, "EMISSOR DEV:11222333000181", cred.Certificate().Subject.CommonName)

	sig, err := cred.Sign([]byte("abc"))
	require.NoError(t, err)
	assert.Len(t, sig, 256)
}

func TestLoad_PEMCombinado(t *testing.T) {
	cred, priv := buildTestCredential(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a1.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cred.Certificate().Raw})
	data = append(data, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})...)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := Load(path, "", "")
	require.NoError(t, err)
	assert.Equal(t, cred.Certificate().SerialNumber, loaded.Certificate().SerialNumber)
}

func TestLoad_PFXInexistente(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nao-existe.pfx"), "", "senha")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_PEMInvalido(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a1.pem")
	require.NoError(t, os.WriteFile(path, []byte("basura"), 0o600))

	_, err := Load(path, "", "")
	assert.ErrorIs(t, err, nfedomain.ErrInvalidCredential)
}
