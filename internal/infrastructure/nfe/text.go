package nfe

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NewTextNormalizer devuelve el normalizador de textos libres del documento:
// NFC, espacios colapsados y, si stripAccents, sin diacríticos (algunas SEFAZ
// estaduales y emisores de DANFE antiguos no manejan acentos).
func NewTextNormalizer(stripAccents bool) func(string) string {
	return func(s string) string {
		s = strings.Join(strings.Fields(s), " ")
		if s == "" {
			return s
		}
		if !stripAccents {
			return norm.NFC.String(s)
		}
		t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
		out, _, err := transform.String(t, s)
		if err != nil {
			return norm.NFC.String(s)
		}
		return out
	}
}
