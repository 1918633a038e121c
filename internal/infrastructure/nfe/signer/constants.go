// Constantes XMLDSig para la firma de la NF-e (Manual de Orientação do Contribuinte).

package signer

// Namespace y algoritmos XMLDSig exigidos por la SEFAZ.
const (
	NamespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA1         = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	AlgSHA1            = "http://www.w3.org/2000/09/xmldsig#sha1"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// SignedElement elemento referenciado por la firma (Reference URI="#NFe...").
const SignedElement = "infNFe"
