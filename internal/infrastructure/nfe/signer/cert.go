// Carga de la credencial A1 desde .pfx (PKCS#12) o par PEM.

package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"software.sslmate.com/src/go-pkcs12"

	nfedomain "github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// A1Credential credencial de firma con certificado A1 (llave en memoria).
// Una *rsa.PrivateKey admite firmas concurrentes; cualquier otro crypto.Signer
// (tokens A3, HSM) se serializa con un mutex.
type A1Credential struct {
	leaf      *x509.Certificate
	chain     [][]byte
	key       crypto.Signer
	serialize bool
	mu        sync.Mutex
}

var _ pkgnfe.SigningCredential = (*A1Credential)(nil)

// NewCredential arma la credencial a partir de un tls.Certificate con llave privada.
func NewCredential(cert tls.Certificate) (*A1Credential, error) {
	if len(cert.Certificate) == 0 {
		return nil, &nfedomain.InvalidCredentialError{Reason: "certificado vacío"}
	}
	signer, ok := cert.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, &nfedomain.InvalidCredentialError{Reason: "el certificado no incluye llave privada utilizable"}
	}
	leaf := cert.Leaf
	if leaf == nil {
		var err error
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return nil, &nfedomain.InvalidCredentialError{Reason: "parsear certificado", Err: err}
		}
	}
	if _, isRSA := signer.Public().(*rsa.PublicKey); !isRSA {
		return nil, &nfedomain.InvalidCredentialError{Reason: "la NF-e exige llave RSA"}
	}
	_, plainRSA := signer.(*rsa.PrivateKey)
	return &A1Credential{leaf: leaf, chain: cert.Certificate, key: signer, serialize: !plainRSA}, nil
}

// LoadFromPFX carga certificado, cadena y llave desde un archivo .pfx/.p12.
// Una contraseña incorrecta produce InvalidCredentialError.
func LoadFromPFX(path, password string) (*A1Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("leer pfx: %w", err)
	}
	return DecodePFX(data, password)
}

// DecodePFX igual que LoadFromPFX a partir de los bytes del archivo.
func DecodePFX(data []byte, password string) (*A1Credential, error) {
	priv, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		reason := "decodificar pfx"
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			reason = "contraseña del certificado incorrecta"
		}
		return nil, &nfedomain.InvalidCredentialError{Reason: reason, Err: err}
	}
	chain := [][]byte{cert.Raw}
	for _, ca := range caCerts {
		chain = append(chain, ca.Raw)
	}
	return NewCredential(tls.Certificate{Certificate: chain, PrivateKey: priv, Leaf: cert})
}

// Load elige el formato por extensión: .pfx/.p12 como PKCS#12, cualquier otro como PEM.
func Load(certPath, keyPath, password string) (*A1Credential, error) {
	switch strings.ToLower(filepath.Ext(certPath)) {
	case ".pfx", ".p12":
		return LoadFromPFX(certPath, password)
	default:
		return LoadFromPEM(certPath, keyPath)
	}
}

// NewDevCredential certificado autofirmado de un año para el ambiente dev (canal simulado).
// La SEFAZ no lo acepta.
func NewDevCredential(commonName string, now time.Time) (*A1Credential, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generar llave: %w", err)
	}
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("crear certificado: %w", err)
	}
	return NewCredential(tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv})
}

// LoadFromPEM carga certificado y llave desde archivos PEM (separados o combinados).
func LoadFromPEM(certPath, keyPath string) (*A1Credential, error) {
	if keyPath == "" {
		keyPath = certPath
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, &nfedomain.InvalidCredentialError{Reason: "cargar PEM", Err: err}
	}
	return NewCredential(cert)
}

// Sign firma SHA-1 + RSA PKCS#1 v1.5 (rsa-sha1 del XMLDSig).
func (c *A1Credential) Sign(data []byte) ([]byte, error) {
	h := sha1.Sum(data)
	if c.serialize {
		c.mu.Lock()
		defer c.mu.Unlock()
	}
	return c.key.Sign(rand.Reader, h[:], crypto.SHA1)
}

// IsValidAt indica si t está dentro de la vigencia del certificado.
func (c *A1Credential) IsValidAt(t time.Time) bool {
	return !t.Before(c.leaf.NotBefore) && !t.After(c.leaf.NotAfter)
}

// Certificate certificado del firmante.
func (c *A1Credential) Certificate() *x509.Certificate { return c.leaf }

// TLSCertificate par certificado/llave para el TLS mutuo con la SEFAZ.
func (c *A1Credential) TLSCertificate() tls.Certificate {
	return tls.Certificate{Certificate: c.chain, PrivateKey: c.key, Leaf: c.leaf}
}
