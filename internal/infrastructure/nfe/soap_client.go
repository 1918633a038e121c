package nfe

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// ── Constantes de entorno ──────────────────────────────────────────────────────

const (
	// AppEnvTest ambiente de homologación de la SEFAZ.
	AppEnvTest = "test"
	// AppEnvProd ambiente de producción.
	AppEnvProd = "prod"
	// AppEnvDev identificador local: no envía a la SEFAZ (canal simulado).
	AppEnvDev = "dev"

	// SVRS (SEFAZ Virtual RS) atiende a la mayoría de las UF.
	autorizacaoURLTest = "https://nfe-homologacao.svrs.rs.gov.br/ws/NfeAutorizacao/NFeAutorizacao4.asmx"
	autorizacaoURLProd = "https://nfe.svrs.rs.gov.br/ws/NfeAutorizacao/NFeAutorizacao4.asmx"
	consultaURLTest    = "https://nfe-homologacao.svrs.rs.gov.br/ws/NfeConsulta/NfeConsulta4.asmx"
	consultaURLProd    = "https://nfe.svrs.rs.gov.br/ws/NfeConsulta/NfeConsulta4.asmx"

	soap12NS          = "http://www.w3.org/2003/05/soap-envelope"
	wsdlAutorizacao   = "http://www.portalfiscal.inf.br/nfe/wsdl/NFeAutorizacao4"
	wsdlConsulta      = "http://www.portalfiscal.inf.br/nfe/wsdl/NFeConsultaProtocolo4"
	actionAutorizacao = wsdlAutorizacao + "/nfeAutorizacaoLote"
	actionConsulta    = wsdlConsulta + "/nfeConsultaNF"

	maxResponseBytes = 1 << 20
)

// Códigos cStat de la SEFAZ relevantes para el coordinador.
const (
	cStatAuthorized      = "100"
	cStatAuthorizedLate  = "150"
	cStatLotReceived     = "103"
	cStatLotProcessed    = "104"
	cStatLotInProcess    = "105"
	cStatServiceStopped  = "108"
	cStatServiceDown     = "109"
	cStatDuplicate       = "204"
	cStatNotFound        = "217"
	cStatRateLimited     = "656"
	cStatDeniedIssuer    = "301"
	cStatDeniedRecipient = "302"
	cStatDenied          = "110"
)

var accessKeyInXML = regexp.MustCompile(`Id="NFe(\d{44})"`)

// SOAPConfig parámetros del canal SEFAZ.
type SOAPConfig struct {
	Env            string // test | prod
	AutorizacaoURL string // vacío = SVRS según Env
	ConsultaURL    string
	Timeout        time.Duration
	ClientCert     *tls.Certificate // certificado A1 para TLS mutuo
}

// SOAPSefazClient implementa pkgnfe.Channel con los servicios NFeAutorizacao4
// (lote síncrono, indSinc=1) y NFeConsultaProtocolo4.
// Usa net/http de la stdlib con TLS mutuo.
type SOAPSefazClient struct {
	httpClient     *http.Client
	autorizacaoURL string
	consultaURL    string
	tpAmb          string
	loteID         func() string
}

var _ pkgnfe.Channel = (*SOAPSefazClient)(nil)

// NewSOAPSefazClient construye el cliente. Timeout por defecto 30 s; cada llamada
// además respeta el deadline del contexto.
func NewSOAPSefazClient(cfg SOAPConfig) (*SOAPSefazClient, error) {
	c := &SOAPSefazClient{
		autorizacaoURL: cfg.AutorizacaoURL,
		consultaURL:    cfg.ConsultaURL,
		loteID:         func() string { return strconv.FormatInt(time.Now().UnixNano()%1_000_000_000_000_000, 10) },
	}
	switch cfg.Env {
	case AppEnvProd:
		c.tpAmb = pkgnfe.EnvironmentProduction
		if c.autorizacaoURL == "" {
			c.autorizacaoURL = autorizacaoURLProd
		}
		if c.consultaURL == "" {
			c.consultaURL = consultaURLProd
		}
	case AppEnvTest:
		c.tpAmb = pkgnfe.EnvironmentHomologation
		if c.autorizacaoURL == "" {
			c.autorizacaoURL = autorizacaoURLTest
		}
		if c.consultaURL == "" {
			c.consultaURL = consultaURLTest
		}
	default:
		return nil, fmt.Errorf("soap: entorno desconocido %q (usar 'test' o 'prod')", cfg.Env)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.ClientCert != nil {
		tlsCfg.Certificates = []tls.Certificate{*cfg.ClientCert}
	}
	c.httpClient = &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{TLSClientConfig: tlsCfg, Proxy: http.ProxyFromEnvironment},
	}
	return c, nil
}

// ── Estructuras SOAP ──────────────────────────────────────────────────────────

type soapEnvelope struct {
	XMLName xml.Name `xml:"soap12:Envelope"`
	XmlnsS  string   `xml:"xmlns:soap12,attr"`
	Body    soapBody `xml:"soap12:Body"`
}

type soapBody struct {
	Msg nfeDadosMsg `xml:"nfeDadosMsg"`
}

type nfeDadosMsg struct {
	Xmlns   string `xml:"xmlns,attr"`
	Content []byte `xml:",innerxml"`
}

type enviNFe struct {
	XMLName xml.Name `xml:"enviNFe"`
	Xmlns   string   `xml:"xmlns,attr"`
	Versao  string   `xml:"versao,attr"`
	IDLote  string   `xml:"idLote"`
	IndSinc string   `xml:"indSinc"`
	NFe     []byte   `xml:",innerxml"`
}

type consSitNFe struct {
	XMLName xml.Name `xml:"consSitNFe"`
	Xmlns   string   `xml:"xmlns,attr"`
	Versao  string   `xml:"versao,attr"`
	TpAmb   string   `xml:"tpAmb"`
	XServ   string   `xml:"xServ"`
	ChNFe   string   `xml:"chNFe"`
}

// ── Estructuras de respuesta SOAP ─────────────────────────────────────────────

type soapResponseEnvelope struct {
	Body struct {
		Result struct {
			RetEnviNFe    *retEnviNFe    `xml:"retEnviNFe"`
			RetConsSitNFe *retConsSitNFe `xml:"retConsSitNFe"`
		} `xml:"nfeResultMsg"`
		Fault *soapFault `xml:"Fault"`
	} `xml:"Body"`
}

type infProt struct {
	ChNFe    string `xml:"chNFe"`
	DhRecbto string `xml:"dhRecbto"`
	NProt    string `xml:"nProt"`
	CStat    string `xml:"cStat"`
	XMotivo  string `xml:"xMotivo"`
}

type retEnviNFe struct {
	CStat    string `xml:"cStat"`
	XMotivo  string `xml:"xMotivo"`
	DhRecbto string `xml:"dhRecbto"`
	InfRec   struct {
		NRec string `xml:"nRec"`
	} `xml:"infRec"`
	ProtNFe *struct {
		InfProt infProt `xml:"infProt"`
	} `xml:"protNFe"`
}

type retConsSitNFe struct {
	CStat   string `xml:"cStat"`
	XMotivo string `xml:"xMotivo"`
	ChNFe   string `xml:"chNFe"`
	ProtNFe *struct {
		InfProt infProt `xml:"infProt"`
	} `xml:"protNFe"`
}

type soapFault struct {
	Code   string `xml:"Code>Value"`
	Reason string `xml:"Reason>Text"`
}

// ── Submit / Query ────────────────────────────────────────────────────────────

// Submit envía el <NFe> firmado en un lote síncrono. Un rechazo por duplicidad (204)
// se resuelve consultando la clave: el documento ya puede estar autorizado.
func (c *SOAPSefazClient) Submit(ctx context.Context, signedXML []byte) (*pkgnfe.SubmitResult, error) {
	nfeBytes := stripDeclaration(signedXML)
	m := accessKeyInXML.FindSubmatch(nfeBytes)
	if m == nil {
		return nil, fmt.Errorf("soap: el XML firmado no contiene la clave de acceso")
	}
	key := pkgnfe.AccessKey(m[1])

	payload, err := xml.Marshal(enviNFe{
		Xmlns:   pkgnfe.NamespaceNFe,
		Versao:  pkgnfe.LayoutVersion,
		IDLote:  c.loteID(),
		IndSinc: "1",
		NFe:     nfeBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("soap: serializar enviNFe: %w", err)
	}
	raw, err := c.call(ctx, c.autorizacaoURL, actionAutorizacao, wsdlAutorizacao, payload)
	if err != nil {
		return nil, err
	}
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	ret := env.Body.Result.RetEnviNFe
	if ret == nil {
		return nil, fmt.Errorf("soap: respuesta sin retEnviNFe")
	}

	switch ret.CStat {
	case cStatLotReceived, cStatLotInProcess, cStatServiceStopped, cStatServiceDown, cStatRateLimited:
		return &pkgnfe.SubmitResult{
			Outcome: pkgnfe.OutcomePending,
			Code:    ret.CStat,
			Reason:  ret.XMotivo,
			Receipt: ret.InfRec.NRec,
		}, nil
	case cStatLotProcessed:
		if ret.ProtNFe == nil {
			return nil, fmt.Errorf("soap: lote procesado sin protNFe")
		}
		p := ret.ProtNFe.InfProt
		if p.CStat == cStatDuplicate {
			res, err := c.Query(ctx, key)
			if err != nil {
				return nil, err
			}
			if res.Outcome == pkgnfe.OutcomeNotFound {
				// la SEFAZ acusa duplicidad pero aún no publica el protocolo
				return &pkgnfe.SubmitResult{Outcome: pkgnfe.OutcomePending, Code: p.CStat, Reason: p.XMotivo}, nil
			}
			return res, nil
		}
		res := protResult(p)
		if res.Outcome == pkgnfe.OutcomeAccepted {
			if res.ProtocolXML, err = ExtractProtNFe(raw); err != nil {
				return nil, err
			}
		}
		return res, nil
	default:
		// rechazo del lote (esquema, certificado, etc.)
		return &pkgnfe.SubmitResult{Outcome: pkgnfe.OutcomeRejected, Code: ret.CStat, Reason: ret.XMotivo}, nil
	}
}

// Query consulta la situación del documento (NFeConsultaProtocolo4).
func (c *SOAPSefazClient) Query(ctx context.Context, key pkgnfe.AccessKey) (*pkgnfe.SubmitResult, error) {
	payload, err := xml.Marshal(consSitNFe{
		Xmlns:  pkgnfe.NamespaceNFe,
		Versao: pkgnfe.LayoutVersion,
		TpAmb:  c.tpAmb,
		XServ:  "CONSULTAR",
		ChNFe:  key.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("soap: serializar consSitNFe: %w", err)
	}
	raw, err := c.call(ctx, c.consultaURL, actionConsulta, wsdlConsulta, payload)
	if err != nil {
		return nil, err
	}
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	ret := env.Body.Result.RetConsSitNFe
	if ret == nil {
		return nil, fmt.Errorf("soap: respuesta sin retConsSitNFe")
	}

	switch ret.CStat {
	case cStatAuthorized, cStatAuthorizedLate:
		res := &pkgnfe.SubmitResult{Outcome: pkgnfe.OutcomeAccepted, Code: ret.CStat, Reason: ret.XMotivo}
		if ret.ProtNFe != nil {
			res = protResult(ret.ProtNFe.InfProt)
			if res.ProtocolXML, err = ExtractProtNFe(raw); err != nil {
				return nil, err
			}
		}
		return res, nil
	case cStatNotFound:
		return &pkgnfe.SubmitResult{Outcome: pkgnfe.OutcomeNotFound, Code: ret.CStat, Reason: ret.XMotivo}, nil
	case cStatDenied, cStatDeniedIssuer, cStatDeniedRecipient:
		return &pkgnfe.SubmitResult{Outcome: pkgnfe.OutcomeRejected, Code: ret.CStat, Reason: ret.XMotivo}, nil
	default:
		return &pkgnfe.SubmitResult{Outcome: pkgnfe.OutcomePending, Code: ret.CStat, Reason: ret.XMotivo}, nil
	}
}

// ── helpers privados ──────────────────────────────────────────────────────────

func (c *SOAPSefazClient) call(ctx context.Context, url, action, wsdl string, payload []byte) ([]byte, error) {
	envelope := soapEnvelope{
		XmlnsS: soap12NS,
		Body:   soapBody{Msg: nfeDadosMsg{Xmlns: wsdl, Content: payload}},
	}
	body, err := xml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("soap: serializar envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("soap: crear request: %w", err)
	}
	req.Header.Set("Content-Type", `application/soap+xml; charset=utf-8; action="`+action+`"`)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("soap: timeout o cancelación: %w", ctx.Err())
		}
		return nil, fmt.Errorf("soap: llamada HTTP fallida: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("soap: leer respuesta: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError && !bytes.Contains(raw, []byte("Fault")) {
		return nil, fmt.Errorf("soap: HTTP %d", resp.StatusCode)
	}
	return raw, nil
}

func parseEnvelope(raw []byte) (*soapResponseEnvelope, error) {
	var env soapResponseEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("soap: no se pudo parsear la respuesta: %w", err)
	}
	if f := env.Body.Fault; f != nil {
		return nil, fmt.Errorf("soap: Fault [%s]: %s", strings.TrimSpace(f.Code), strings.TrimSpace(f.Reason))
	}
	return &env, nil
}

func protResult(p infProt) *pkgnfe.SubmitResult {
	res := &pkgnfe.SubmitResult{Code: p.CStat, Reason: p.XMotivo}
	if t, err := time.Parse(dateTimeLayout, p.DhRecbto); err == nil {
		res.ReceivedAt = t
	}
	switch p.CStat {
	case cStatAuthorized, cStatAuthorizedLate:
		res.Outcome = pkgnfe.OutcomeAccepted
		res.Protocol = p.NProt
	case cStatLotInProcess, cStatServiceStopped, cStatServiceDown:
		res.Outcome = pkgnfe.OutcomePending
	default:
		res.Outcome = pkgnfe.OutcomeRejected
	}
	return res
}
