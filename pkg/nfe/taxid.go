package nfe

import "fmt"

// pesos módulo 11 para los dígitos verificadores de CNPJ (Receita Federal).
var (
	cnpjWeights1 = [12]int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = [13]int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// ValidateCNPJ valida los dos dígitos verificadores del CNPJ (con o sin máscara).
func ValidateCNPJ(cnpj string) error {
	d := OnlyDigits(cnpj)
	if len(d) != 14 {
		return fmt.Errorf("nfe: CNPJ debe tener 14 dígitos, se encontraron %d", len(d))
	}
	if allSame(d) {
		return fmt.Errorf("nfe: CNPJ %s inválido", d)
	}
	dv1 := mod11Digit(d[:12], cnpjWeights1[:])
	dv2 := mod11Digit(d[:12]+string(rune('0'+dv1)), cnpjWeights2[:])
	if int(d[12]-'0') != dv1 || int(d[13]-'0') != dv2 {
		return fmt.Errorf("nfe: dígitos verificadores del CNPJ inválidos: esperado %d%d, recibido %s", dv1, dv2, d[12:])
	}
	return nil
}

// ValidateCPF valida los dos dígitos verificadores del CPF (con o sin máscara).
func ValidateCPF(cpf string) error {
	d := OnlyDigits(cpf)
	if len(d) != 11 {
		return fmt.Errorf("nfe: CPF debe tener 11 dígitos, se encontraron %d", len(d))
	}
	if allSame(d) {
		return fmt.Errorf("nfe: CPF %s inválido", d)
	}
	w1 := []int{10, 9, 8, 7, 6, 5, 4, 3, 2}
	w2 := []int{11, 10, 9, 8, 7, 6, 5, 4, 3, 2}
	dv1 := mod11Digit(d[:9], w1)
	dv2 := mod11Digit(d[:9]+string(rune('0'+dv1)), w2)
	if int(d[9]-'0') != dv1 || int(d[10]-'0') != dv2 {
		return fmt.Errorf("nfe: dígitos verificadores del CPF inválidos: esperado %d%d, recibido %s", dv1, dv2, d[9:])
	}
	return nil
}

// ValidateTaxID decide entre CNPJ (14 dígitos) y CPF (11 dígitos).
func ValidateTaxID(id string) error {
	switch len(OnlyDigits(id)) {
	case 14:
		return ValidateCNPJ(id)
	case 11:
		return ValidateCPF(id)
	default:
		return fmt.Errorf("nfe: identificación %q no es CNPJ ni CPF", id)
	}
}

func mod11Digit(digits string, weights []int) int {
	var sum int
	for i := 0; i < len(digits); i++ {
		sum += int(digits[i]-'0') * weights[i]
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}

func allSame(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}
