// Package nfe contiene catálogos, reglas de clave de acceso y puertos de la
// Nota Fiscal Eletrônica (modelo 55, leiaute 4.00, Manual de Orientação do Contribuinte).
package nfe

// =============================================================================
// Identificación (grupo ide) - valores fijos para el tipo de documento soportado
// =============================================================================

const (
	LayoutVersion   = "4.00"
	ModelNFe        = "55" // mod: NF-e
	EmissionNormal  = "1"  // tpEmis: emisión normal
	OperationOutput = "1"  // tpNF: salida
	DestInternal    = "1"  // idDest: operación interna
	PrintPortrait   = "1"  // tpImp: DANFE normal, retrato
	FinalConsumer   = "1"  // indFinal: consumidor final
	PresenceOnSite  = "1"  // indPres: operación presencial
	ProcessOwnApp   = "0"  // procEmi: emisión con aplicativo del contribuyente
	DefaultVerProc  = "nfe-emissor 1.0"
	NamespaceNFe    = "http://www.portalfiscal.inf.br/nfe"
	AccessKeyPrefix = "NFe" // prefijo del atributo Id de infNFe
)

// Ambiente (tpAmb).
const (
	EnvironmentProduction   = "1"
	EnvironmentHomologation = "2"
)

// Finalidad de emisión (finNFe).
const (
	PurposeNormal        = "1"
	PurposeComplementary = "2"
	PurposeAdjustment    = "3"
	PurposeReturn        = "4"
)

// ValidPurposes códigos finNFe aceptados.
var ValidPurposes = map[string]bool{
	PurposeNormal: true, PurposeComplementary: true, PurposeAdjustment: true, PurposeReturn: true,
}

// Régimen tributario del emisor (CRT).
const (
	RegimeSimples       = "1" // Simples Nacional
	RegimeSimplesExcess = "2" // Simples Nacional, exceso de sublímite
	RegimeNormal        = "3" // Régimen normal
	RegimeMEI           = "4" // Microemprendedor individual
)

// Indicador de IE del destinatario (indIEDest).
const (
	IEContributor    = "1" // contribuyente ICMS
	IEExempt         = "2" // contribuyente exento de inscripción
	IENonContributor = "9" // no contribuyente
)

// =============================================================================
// Situación tributaria (CST) por tipo de impuesto
// =============================================================================

// ICMSTaxedCodes CST de ICMS que exigen base de cálculo, alícuota y valor.
var ICMSTaxedCodes = map[string]bool{
	"00": true, "10": true, "20": true, "51": true, "70": true, "90": true,
}

// ICMSReducedBaseCodes CST de ICMS con reducción de base de cálculo (pRedBC).
var ICMSReducedBaseCodes = map[string]bool{"20": true, "70": true}

// PISTaxedCodes CST de PIS tributados por alícuota (grupo PISAliq).
var PISTaxedCodes = map[string]bool{"01": true, "02": true}

// COFINSTaxedCodes CST de COFINS tributados por alícuota (grupo COFINSAliq).
var COFINSTaxedCodes = map[string]bool{"01": true, "02": true}

// ICMSGroupByCST nombre del grupo ICMS del leiaute según el CST.
var ICMSGroupByCST = map[string]string{
	"00": "ICMS00", "10": "ICMS10", "20": "ICMS20",
	"40": "ICMS40", "41": "ICMS40", "50": "ICMS40",
	"51": "ICMS51", "60": "ICMS60", "70": "ICMS70", "90": "ICMS90",
}

// ICMSBasisModeValue modBC = 3 (valor de la operación).
const ICMSBasisModeValue = "3"

// =============================================================================
// Transporte y pago
// =============================================================================

const (
	FreightByIssuer    = "0"
	FreightByRecipient = "1"
	FreightNone        = "9" // sin transporte
)

// Medios de pago (tPag) de uso frecuente.
const (
	PaymentCash        = "01"
	PaymentCheck       = "02"
	PaymentCreditCard  = "03"
	PaymentDebitCard   = "04"
	PaymentStoreCredit = "05"
	PaymentBoleto      = "15"
	PaymentPix         = "17"
	PaymentNone        = "90"
	PaymentOther       = "99"
)

// =============================================================================
// Unidades federativas - código IBGE (cUF)
// =============================================================================

var UFCodes = map[string]string{
	"RO": "11", "AC": "12", "AM": "13", "RR": "14", "PA": "15", "AP": "16", "TO": "17",
	"MA": "21", "PI": "22", "CE": "23", "RN": "24", "PB": "25", "PE": "26", "AL": "27",
	"SE": "28", "BA": "29", "MG": "31", "ES": "32", "RJ": "33", "SP": "35", "PR": "41",
	"SC": "42", "RS": "43", "MS": "50", "MT": "51", "GO": "52", "DF": "53",
}

// HomologationRecipientName xNome obligatorio del destinatario en ambiente de homologación.
const HomologationRecipientName = "NF-E EMITIDA EM AMBIENTE DE HOMOLOGACAO - SEM VALOR FISCAL"

// BarcodeSentinel valor de cEAN/cEANTrib cuando el producto no tiene GTIN.
const BarcodeSentinel = "SEM GTIN"
