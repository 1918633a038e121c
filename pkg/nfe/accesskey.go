package nfe

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Longitudes de la clave de acceso (chave de acesso) de 44 dígitos.
const (
	AccessKeyLength = 44
	keyPrefixLength = 43
	controlCodeLen  = 8
)

// ErrInvalidAccessKey clave mal formada o con dígito verificador incorrecto.
var ErrInvalidAccessKey = errors.New("nfe: clave de acceso inválida")

// AccessKey clave de acceso de 44 dígitos:
//
//	cUF(2) + AAMM(4) + CNPJ(14) + mod(2) + serie(3) + nNF(9) + tpEmis(1) + cNF(8) + cDV(1)
type AccessKey string

// AccessKeyFields campos estructurales de la clave. Serie y número se rellenan con ceros.
type AccessKeyFields struct {
	UFCode       string // código IBGE de la UF del emisor (2 dígitos)
	YearMonth    string // AAMM de la fecha de emisión
	CNPJ         string // CNPJ del emisor (14 dígitos)
	Model        string // 55
	Series       string // hasta 3 dígitos
	Number       string // hasta 9 dígitos
	EmissionType string // tpEmis (1 dígito)
	ControlCode  string // cNF aleatorio (8 dígitos)
}

// BuildAccessKey concatena los campos en el orden del leiaute y agrega el dígito verificador.
func BuildAccessKey(f AccessKeyFields) (AccessKey, error) {
	parts := []struct {
		name  string
		value string
		size  int
		pad   bool
	}{
		{"cUF", f.UFCode, 2, false},
		{"AAMM", f.YearMonth, 4, false},
		{"CNPJ", OnlyDigits(f.CNPJ), 14, false},
		{"mod", f.Model, 2, false},
		{"serie", f.Series, 3, true},
		{"nNF", f.Number, 9, true},
		{"tpEmis", f.EmissionType, 1, false},
		{"cNF", f.ControlCode, controlCodeLen, false},
	}
	var sb strings.Builder
	sb.Grow(AccessKeyLength)
	for _, p := range parts {
		v := p.value
		if p.pad && len(v) < p.size {
			v = strings.Repeat("0", p.size-len(v)) + v
		}
		if len(v) != p.size || !isDigits(v) {
			return "", fmt.Errorf("%w: %s debe tener %d dígitos, recibido %q", ErrInvalidAccessKey, p.name, p.size, p.value)
		}
		sb.WriteString(v)
	}
	prefix := sb.String()
	dv, err := CheckDigit(prefix)
	if err != nil {
		return "", err
	}
	return AccessKey(prefix + strconv.Itoa(dv)), nil
}

// CheckDigit calcula el dígito verificador módulo 11 de los 43 dígitos de la clave.
// Pesos 2..9 cíclicos desde el dígito más a la derecha; resto < 2 da 0, si no 11 - resto.
func CheckDigit(prefix string) (int, error) {
	if len(prefix) != keyPrefixLength || !isDigits(prefix) {
		return 0, fmt.Errorf("%w: se esperan %d dígitos, recibido %q", ErrInvalidAccessKey, keyPrefixLength, prefix)
	}
	sum, weight := 0, 2
	for i := len(prefix) - 1; i >= 0; i-- {
		sum += int(prefix[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	rem := sum % 11
	if rem < 2 {
		return 0, nil
	}
	return 11 - rem, nil
}

// ParseAccessKey valida formato y dígito verificador.
func ParseAccessKey(s string) (AccessKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), AccessKeyPrefix)
	if len(s) != AccessKeyLength || !isDigits(s) {
		return "", fmt.Errorf("%w: se esperan %d dígitos", ErrInvalidAccessKey, AccessKeyLength)
	}
	dv, err := CheckDigit(s[:keyPrefixLength])
	if err != nil {
		return "", err
	}
	if int(s[keyPrefixLength]-'0') != dv {
		return "", fmt.Errorf("%w: dígito verificador esperado %d, recibido %c", ErrInvalidAccessKey, dv, s[keyPrefixLength])
	}
	return AccessKey(s), nil
}

// String devuelve los 44 dígitos.
func (k AccessKey) String() string { return string(k) }

// ID valor del atributo Id de infNFe ("NFe" + clave).
func (k AccessKey) ID() string { return AccessKeyPrefix + string(k) }

// Valid indica si la clave tiene 44 dígitos y el dígito verificador coincide.
func (k AccessKey) Valid() bool {
	_, err := ParseAccessKey(string(k))
	return err == nil
}

// CheckDigitValue último dígito de la clave (cDV).
func (k AccessKey) CheckDigitValue() string {
	if len(k) != AccessKeyLength {
		return ""
	}
	return string(k[keyPrefixLength:])
}

// Fields descompone la clave en sus campos estructurales.
func (k AccessKey) Fields() (AccessKeyFields, error) {
	if len(k) != AccessKeyLength {
		return AccessKeyFields{}, ErrInvalidAccessKey
	}
	s := string(k)
	return AccessKeyFields{
		UFCode:       s[0:2],
		YearMonth:    s[2:6],
		CNPJ:         s[6:20],
		Model:        s[20:22],
		Series:       s[22:25],
		Number:       s[25:34],
		EmissionType: s[34:35],
		ControlCode:  s[35:43],
	}, nil
}

// NewControlCode genera el cNF de 8 dígitos con crypto/rand. Se vuelve a sortear si
// coincide con el número del documento (la SEFAZ rechaza cNF igual a nNF).
func NewControlCode(r io.Reader, number string) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	num := OnlyDigits(number)
	if len(num) > controlCodeLen {
		num = num[len(num)-controlCodeLen:]
	}
	num = strings.Repeat("0", controlCodeLen-len(num)) + num
	var buf [4]byte
	for i := 0; i < 64; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return "", fmt.Errorf("nfe: generar cNF: %w", err)
		}
		// 27 bits cubren 0..99_999_999; los valores fuera de rango se descartan.
		v := binary.BigEndian.Uint32(buf[:]) & (1<<27 - 1)
		if v >= 100_000_000 {
			continue
		}
		code := fmt.Sprintf("%08d", v)
		if code != num {
			return code, nil
		}
	}
	return "", fmt.Errorf("nfe: no fue posible generar un cNF distinto de nNF")
}

// OnlyDigits deja solo dígitos 0-9.
func OnlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
