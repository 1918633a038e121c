package entity

// Customer destinatario del documento fiscal.
type Customer struct {
	ID                string
	TaxID             string // CNPJ (14 dígitos) o CPF (11 dígitos)
	Name              string
	IEIndicator       string // indIEDest, ver nfe.IE*
	StateRegistration string // IE, solo si IEIndicator = contribuyente
	Email             string
	Address           *Address // opcional para consumidor final
}

// IsCompany indica si la identificación es un CNPJ.
func (c Customer) IsCompany() bool {
	n := 0
	for _, r := range c.TaxID {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n == 14
}
