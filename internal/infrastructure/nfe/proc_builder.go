package nfe

import (
	"bytes"
	"fmt"

	"github.com/beevik/etree"

	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// BuildProc arma el XML de distribución <nfeProc> con el <NFe> firmado y el
// <protNFe> devuelto por la SEFAZ. El <NFe> se copia byte a byte para no
// alterar el contenido firmado.
func BuildProc(signedXML, protXML []byte) ([]byte, error) {
	nfeBytes := stripDeclaration(signedXML)
	signed := etree.NewDocument()
	if err := signed.ReadFromBytes(nfeBytes); err != nil {
		return nil, fmt.Errorf("nfeProc: XML firmado inválido: %w", err)
	}
	if root := signed.Root(); root == nil || root.Tag != "NFe" {
		return nil, fmt.Errorf("nfeProc: se esperaba <NFe> como raíz")
	}
	if signed.FindElement("//Signature") == nil {
		return nil, fmt.Errorf("nfeProc: el <NFe> no está firmado")
	}

	prot := etree.NewDocument()
	if err := prot.ReadFromBytes(stripDeclaration(protXML)); err != nil {
		return nil, fmt.Errorf("nfeProc: protNFe inválido: %w", err)
	}
	protRoot := prot.Root()
	if protRoot == nil || protRoot.Tag != "protNFe" {
		return nil, fmt.Errorf("nfeProc: se esperaba <protNFe>")
	}
	if protRoot.SelectAttr("xmlns") == nil {
		protRoot.CreateAttr("xmlns", pkgnfe.NamespaceNFe)
	}
	prot.WriteSettings.CanonicalEndTags = true
	protBytes, err := prot.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("nfeProc: serializar protNFe: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	fmt.Fprintf(&buf, `<nfeProc xmlns="%s" versao="%s">`, pkgnfe.NamespaceNFe, pkgnfe.LayoutVersion)
	buf.Write(nfeBytes)
	buf.Write(protBytes)
	buf.WriteString(`</nfeProc>`)
	return buf.Bytes(), nil
}

// ExtractProtNFe copia el primer <protNFe> de una respuesta de la SEFAZ como
// documento independiente (con su xmlns), listo para BuildProc.
func ExtractProtNFe(response []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(response); err != nil {
		return nil, fmt.Errorf("protNFe: respuesta inválida: %w", err)
	}
	el := doc.FindElement("//protNFe")
	if el == nil {
		return nil, nil
	}
	out := etree.NewDocument()
	cp := el.Copy()
	if cp.SelectAttr("xmlns") == nil {
		cp.CreateAttr("xmlns", pkgnfe.NamespaceNFe)
	}
	out.SetRoot(cp)
	return out.WriteToBytes()
}

func stripDeclaration(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if bytes.HasPrefix(b, []byte("<?xml")) {
		if i := bytes.Index(b, []byte("?>")); i >= 0 {
			return bytes.TrimSpace(b[i+2:])
		}
	}
	return b
}
