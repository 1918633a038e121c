package entity

// Address dirección fiscal (enderEmit / enderDest).
type Address struct {
	Street      string // xLgr
	Number      string // nro
	Complement  string // xCpl (opcional)
	District    string // xBairro
	CityCode    string // cMun, código IBGE de 7 dígitos
	CityName    string // xMun
	UF          string // sigla de la unidad federativa (SP, RJ...)
	ZipCode     string // CEP, 8 dígitos
	CountryCode string // cPais, 1058 = Brasil
	CountryName string // xPais
	Phone       string
}

// Company emisor del documento fiscal.
type Company struct {
	ID                string
	CNPJ              string // 14 dígitos, con o sin máscara
	Name              string // razón social (xNome)
	TradeName         string // nombre fantasía (xFant)
	StateRegistration string // inscripción estadual (IE)
	Regime            string // CRT, ver nfe.Regime*
	Address           Address
}
