// Servicio de firma XMLDSig enveloped de la NF-e.
// Inyecta <Signature> como último hijo de <NFe>, después de <infNFe>.

package signer

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	nfedomain "github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// DigitalSignatureService firma el <NFe>: digest SHA-1 del <infNFe> canonicalizado
// (C14N 1.0) y SignatureValue RSA-SHA1 sobre el <SignedInfo> canonicalizado.
type DigitalSignatureService struct{}

// NewDigitalSignatureService crea el servicio.
func NewDigitalSignatureService() *DigitalSignatureService {
	return &DigitalSignatureService{}
}

// Sign implementa pkgnfe.Signer. La vigencia de la credencial se evalúa contra
// at (fecha de emisión del documento), no contra el reloj, para que la firma
// sea reproducible.
func (s *DigitalSignatureService) Sign(xmlBytes []byte, cred pkgnfe.SigningCredential, at time.Time) ([]byte, error) {
	if len(xmlBytes) == 0 {
		return nil, fmt.Errorf("nfe: XML vacío")
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("nfe: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "NFe" {
		return nil, fmt.Errorf("nfe: se esperaba <NFe> como raíz")
	}
	if root.SelectElement("Signature") != nil {
		return nil, fmt.Errorf("nfe: el documento ya está firmado")
	}
	inf := root.SelectElement(SignedElement)
	if inf == nil {
		return nil, fmt.Errorf("nfe: no se encontró <%s>", SignedElement)
	}
	id := inf.SelectAttrValue("Id", "")
	key := pkgnfe.AccessKey(strings.TrimPrefix(id, pkgnfe.AccessKeyPrefix))
	if id == "" {
		return nil, fmt.Errorf("nfe: <%s> sin atributo Id", SignedElement)
	}

	if cred == nil || cred.Certificate() == nil {
		return nil, &nfedomain.InvalidCredentialError{AccessKey: key, Reason: "credencial sin certificado"}
	}
	if !cred.IsValidAt(at) {
		c := cred.Certificate()
		return nil, &nfedomain.InvalidCredentialError{
			AccessKey: key,
			Reason: fmt.Sprintf("certificado fuera de vigencia en %s (válido de %s a %s)",
				at.Format(time.RFC3339), c.NotBefore.Format(time.RFC3339), c.NotAfter.Format(time.RFC3339)),
		}
	}

	// 1) Digest de infNFe con el namespace heredado de <NFe>.
	canonicalInf, err := canonicalizeElement(inf, pkgnfe.NamespaceNFe)
	if err != nil {
		return nil, fmt.Errorf("nfe: canonicalizar %s: %w", SignedElement, err)
	}
	digest := sha1.Sum(canonicalInf)
	digestB64 := base64.StdEncoding.EncodeToString(digest[:])

	// 2) SignedInfo canonicalizado (hereda el namespace de <Signature>).
	signedInfo := buildSignedInfo("#"+id, digestB64)
	canonicalSignedInfo, err := canonicalizeXML([]byte(signedInfo))
	if err != nil {
		return nil, fmt.Errorf("nfe: canonicalizar SignedInfo: %w", err)
	}
	signatureValue, err := cred.Sign(canonicalSignedInfo)
	if err != nil {
		return nil, &nfedomain.InvalidCredentialError{AccessKey: key, Reason: "no fue posible firmar", Err: err}
	}

	// 3) KeyInfo con el certificado del firmante.
	certB64 := base64.StdEncoding.EncodeToString(cred.Certificate().Raw)
	signatureXML := buildSignature(signedInfo, base64.StdEncoding.EncodeToString(signatureValue), certB64)

	return injectSignature(xmlBytes, signatureXML)
}

func canonicalizeXML(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

// canonicalizeElement C14N de un subárbol, declarando en su raíz el namespace por
// defecto heredado del ancestro (así lo ve el verificador al procesar el Reference).
func canonicalizeElement(el *etree.Element, inheritedNS string) ([]byte, error) {
	cp := el.Copy()
	if cp.SelectAttr("xmlns") == nil && inheritedNS != "" {
		cp.CreateAttr("xmlns", inheritedNS)
	}
	sub := etree.NewDocument()
	sub.SetRoot(cp)
	raw, err := sub.WriteToBytes()
	if err != nil {
		return nil, err
	}
	return canonicalizeXML(raw)
}

func buildSignedInfo(uri, digestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<SignedInfo xmlns="` + NamespaceDS + `">`)
	sb.WriteString(`<CanonicalizationMethod Algorithm="` + AlgC14N + `"></CanonicalizationMethod>`)
	sb.WriteString(`<SignatureMethod Algorithm="` + AlgRSASHA1 + `"></SignatureMethod>`)
	sb.WriteString(`<Reference URI="` + uri + `">`)
	sb.WriteString(`<Transforms><Transform Algorithm="` + TransformEnveloped + `"></Transform>`)
	sb.WriteString(`<Transform Algorithm="` + AlgC14N + `"></Transform></Transforms>`)
	sb.WriteString(`<DigestMethod Algorithm="` + AlgSHA1 + `"></DigestMethod>`)
	sb.WriteString(`<DigestValue>` + digestB64 + `</DigestValue>`)
	sb.WriteString(`</Reference>`)
	sb.WriteString(`</SignedInfo>`)
	return sb.String()
}

func buildSignature(signedInfoXML, signatureValueB64, certB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<Signature xmlns="` + NamespaceDS + `">`)
	// el xmlns de SignedInfo es redundante dentro de <Signature>
	sb.WriteString(strings.Replace(signedInfoXML, ` xmlns="`+NamespaceDS+`"`, "", 1))
	sb.WriteString(`<SignatureValue>` + signatureValueB64 + `</SignatureValue>`)
	sb.WriteString(`<KeyInfo><X509Data><X509Certificate>` + certB64 + `</X509Certificate></X509Data></KeyInfo>`)
	sb.WriteString(`</Signature>`)
	return sb.String()
}

// injectSignature inserta la firma antes de </NFe> sin reescribir el resto del
// documento: los bytes de <infNFe> quedan tal como se firmaron.
func injectSignature(xmlBytes []byte, signatureXML string) ([]byte, error) {
	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return nil, fmt.Errorf("nfe: parsear Signature: %w", err)
	}
	closing := []byte("</NFe>")
	idx := bytes.LastIndex(xmlBytes, closing)
	if idx < 0 {
		return nil, fmt.Errorf("nfe: no se encontró </NFe>")
	}
	out := make([]byte, 0, len(xmlBytes)+len(signatureXML))
	out = append(out, xmlBytes[:idx]...)
	out = append(out, signatureXML...)
	out = append(out, xmlBytes[idx:]...)
	return out, nil
}

var _ pkgnfe.Signer = (*DigitalSignatureService)(nil)
