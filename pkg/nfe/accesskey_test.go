package nfe_test

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// ──────────────────────────────────────────────────────────────────────────────
// Vectores de referencia. El segundo corresponde a una clave real autorizada
// por la SEFAZ-SP (emisor 32.409.620/0001-75, julio 2025).
// ──────────────────────────────────────────────────────────────────────────────

const (
	testPrefixA = "3525052001234567000195550010000000011123456"
	testPrefixB = "3525073240962000017555001000003747101154464"
	testKeyReal = "35250732409620000175550010000037471011544648"
)

func TestCheckDigit_Vectores(t *testing.T) {
	dv, err := nfe.CheckDigit(testPrefixA)
	require.NoError(t, err)
	assert.Equal(t, 0, dv, "resto < 2 debe producir dígito 0")

	dv, err = nfe.CheckDigit(testPrefixB)
	require.NoError(t, err)
	assert.Equal(t, 8, dv, "debe coincidir con la clave autorizada por la SEFAZ")
}

func TestCheckDigit_LongitudInvalida(t *testing.T) {
	_, err := nfe.CheckDigit("123")
	assert.ErrorIs(t, err, nfe.ErrInvalidAccessKey)

	_, err = nfe.CheckDigit(testPrefixA[:42] + "X")
	assert.ErrorIs(t, err, nfe.ErrInvalidAccessKey)
}

func TestBuildAccessKey_Estructura(t *testing.T) {
	key, err := nfe.BuildAccessKey(buildTestFields())
	require.NoError(t, err)

	assert.Len(t, key.String(), nfe.AccessKeyLength)
	assert.Equal(t, testKeyReal, key.String())
	assert.Equal(t, "NFe"+testKeyReal, key.ID())
	assert.Equal(t, "8", key.CheckDigitValue())
	assert.True(t, key.Valid())

	f, err := key.Fields()
	require.NoError(t, err)
	assert.Equal(t, "001", f.Series, "la serie se rellena con ceros a 3 dígitos")
	assert.Equal(t, "000003747", f.Number, "el número se rellena con ceros a 9 dígitos")
	assert.Equal(t, "32409620000175", f.CNPJ)
}

// TestBuildAccessKey_Determinista la misma entrada siempre produce la misma clave.
func TestBuildAccessKey_Determinista(t *testing.T) {
	k1, err1 := nfe.BuildAccessKey(buildTestFields())
	k2, err2 := nfe.BuildAccessKey(buildTestFields())
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, k1, k2)
}

func TestBuildAccessKey_CampoInvalido(t *testing.T) {
	f := buildTestFields()
	f.CNPJ = "123"
	_, err := nfe.BuildAccessKey(f)
	assert.ErrorIs(t, err, nfe.ErrInvalidAccessKey)

	f = buildTestFields()
	f.Number = "1234567890"
	_, err = nfe.BuildAccessKey(f)
	assert.ErrorIs(t, err, nfe.ErrInvalidAccessKey, "nNF con más de 9 dígitos debe fallar")
}

// TestParseAccessKey_DetectaDigitoAlterado cambiar cualquier dígito de los
// primeros 43 invalida la clave.
func TestParseAccessKey_DetectaDigitoAlterado(t *testing.T) {
	_, err := nfe.ParseAccessKey(testKeyReal)
	require.NoError(t, err)

	for i := 0; i < 43; i++ {
		orig := int(testKeyReal[i] - '0')
		altered := []byte(testKeyReal)
		altered[i] = strconv.Itoa((orig+1)%10)[0]
		_, err := nfe.ParseAccessKey(string(altered))
		assert.ErrorIs(t, err, nfe.ErrInvalidAccessKey, "posición %d alterada debe detectarse", i)
	}
}

func TestParseAccessKey_AceptaPrefijoNFe(t *testing.T) {
	key, err := nfe.ParseAccessKey("NFe" + testKeyReal)
	require.NoError(t, err)
	assert.Equal(t, nfe.AccessKey(testKeyReal), key)
}

func TestNewControlCode_OchoDigitos(t *testing.T) {
	code, err := nfe.NewControlCode(nil, "3747")
	require.NoError(t, err)
	assert.Len(t, code, 8)
	assert.Equal(t, code, nfe.OnlyDigits(code))
}

// TestNewControlCode_DistintoDeNumero si el primer sorteo coincide con nNF se sortea de nuevo.
func TestNewControlCode_DistintoDeNumero(t *testing.T) {
	// 0x00000001 como primer sorteo = 00000001; luego 0x00000002.
	r := bytes.NewReader([]byte{0, 0, 0, 1, 0, 0, 0, 2})
	code, err := nfe.NewControlCode(r, "1")
	require.NoError(t, err)
	assert.Equal(t, "00000002", code)
}

// ── helper ──────────────────────────────────────────────────────────────────

func buildTestFields() nfe.AccessKeyFields {
	return nfe.AccessKeyFields{
		UFCode:       "35",
		YearMonth:    "2507",
		CNPJ:         "32.409.620/0001-75",
		Model:        nfe.ModelNFe,
		Series:       "1",
		Number:       "3747",
		EmissionType: nfe.EmissionNormal,
		ControlCode:  "01154464",
	}
}
