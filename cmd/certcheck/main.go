// certcheck diagnostica el certificado A1 antes de emitir: lectura del archivo,
// contraseña, vigencia y correspondencia entre llave y certificado.
//
// Uso: go run ./cmd/certcheck [ruta.pfx|ruta.pem] [contraseña]
// Sin argumentos usa NFE_CERT_PATH, NFE_CERT_KEY_PATH y NFE_CERT_PASSWORD.
package main

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jhoicas/nfe-emissor/internal/infrastructure/nfe/signer"
	"github.com/jhoicas/nfe-emissor/pkg/config"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

func main() {
	certPath, keyPath, password := "", "", ""
	if len(os.Args) > 1 {
		certPath = os.Args[1]
		if len(os.Args) > 2 {
			password = os.Args[2]
		}
	} else {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cargar configuración: %v\n", err)
			os.Exit(1)
		}
		certPath, keyPath, password = cfg.NFe.CertPath, cfg.NFe.CertKeyPath, cfg.NFe.CertPassword
	}
	if certPath == "" {
		fmt.Fprintln(os.Stderr, "Indique la ruta del certificado o defina NFE_CERT_PATH")
		os.Exit(2)
	}

	fmt.Println("DIAGNÓSTICO DE CERTIFICADO A1 (NF-e)")
	fmt.Println("------------------------------------")
	fmt.Printf("Archivo: %s\n", certPath)

	info, err := os.Stat(certPath)
	if err != nil {
		fmt.Printf("\nERROR DE ARCHIVO: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Tamaño: %d bytes\n", info.Size())

	cred, err := signer.Load(certPath, keyPath, password)
	if err != nil {
		fmt.Printf("\nERROR DE CONTRASEÑA O FORMATO: %v\n", err)
		os.Exit(1)
	}

	cert := cred.Certificate()
	now := time.Now()
	fmt.Printf("Titular:  %s\n", cert.Subject.CommonName)
	if _, cnpj, ok := strings.Cut(cert.Subject.CommonName, ":"); ok {
		fmt.Printf("CNPJ:     %s (válido: %t)\n", cnpj, pkgnfe.ValidateCNPJ(cnpj) == nil)
	}
	fmt.Printf("Emisor:   %s\n", cert.Issuer.CommonName)
	fmt.Printf("Vigencia: %s → %s\n", cert.NotBefore.Format(time.DateOnly), cert.NotAfter.Format(time.DateOnly))

	if !cred.IsValidAt(now) {
		fmt.Println("\nCERTIFICADO FUERA DE VIGENCIA: la SEFAZ rechazará las firmas.")
		os.Exit(1)
	}
	days := int(cert.NotAfter.Sub(now).Hours() / 24)
	fmt.Printf("Días restantes: %d\n", days)

	payload := []byte("nfe-emissor certcheck " + now.Format(time.RFC3339))
	sig, err := cred.Sign(payload)
	if err != nil {
		fmt.Printf("\nERROR AL FIRMAR: %v\n", err)
		os.Exit(1)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		fmt.Println("\nLLAVE PÚBLICA NO RSA")
		os.Exit(1)
	}
	h := sha1.Sum(payload)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, h[:], sig); err != nil {
		fmt.Printf("\nLA LLAVE NO CORRESPONDE AL CERTIFICADO: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nOK: certificado, contraseña y llave correctos.")
	if days < 30 {
		fmt.Println("Aviso: el certificado vence en menos de 30 días.")
	}
}
