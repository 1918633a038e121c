package nfe

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// MockChannel canal local (NFE_ENV=dev): autoriza de inmediato sin salir a la red
// y recuerda las claves enviadas para responder consultas.
type MockChannel struct {
	now     func() time.Time
	seq     atomic.Int64
	mu      sync.Mutex
	results map[pkgnfe.AccessKey]*pkgnfe.SubmitResult
}

var _ pkgnfe.Channel = (*MockChannel)(nil)

// NewMockChannel crea el canal simulado.
func NewMockChannel() *MockChannel {
	return &MockChannel{now: time.Now, results: make(map[pkgnfe.AccessKey]*pkgnfe.SubmitResult)}
}

// Submit autoriza el documento. Un reenvío de la misma clave devuelve el mismo protocolo.
func (m *MockChannel) Submit(ctx context.Context, signedXML []byte) (*pkgnfe.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	match := accessKeyInXML.FindSubmatch(signedXML)
	if match == nil {
		return nil, fmt.Errorf("mock: el XML firmado no contiene la clave de acceso")
	}
	key := pkgnfe.AccessKey(match[1])

	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.results[key]; ok {
		return res, nil
	}
	now := m.now()
	protocol := fmt.Sprintf("9%02d%012d", now.Year()%100, m.seq.Add(1))
	protXML, err := mockProtNFe(key, protocol, now)
	if err != nil {
		return nil, err
	}
	res := &pkgnfe.SubmitResult{
		Outcome:     pkgnfe.OutcomeAccepted,
		Protocol:    protocol,
		Code:        cStatAuthorized,
		Reason:      "Autorizado o uso da NF-e (simulado)",
		ReceivedAt:  now,
		ProtocolXML: protXML,
	}
	m.results[key] = res
	return res, nil
}

// Query devuelve el resultado registrado o NotFound.
func (m *MockChannel) Query(ctx context.Context, key pkgnfe.AccessKey) (*pkgnfe.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.results[key]; ok {
		return res, nil
	}
	return &pkgnfe.SubmitResult{Outcome: pkgnfe.OutcomeNotFound, Code: cStatNotFound, Reason: "NF-e não consta na base de dados"}, nil
}

func mockProtNFe(key pkgnfe.AccessKey, protocol string, at time.Time) ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	root := xml.StartElement{
		Name: xml.Name{Local: "protNFe"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns"}, Value: pkgnfe.NamespaceNFe},
			{Name: xml.Name{Local: "versao"}, Value: pkgnfe.LayoutVersion},
		},
	}
	_ = enc.EncodeToken(root)
	openTag(enc, "infProt")
	writeTag(enc, "tpAmb", pkgnfe.EnvironmentHomologation)
	writeTag(enc, "verAplic", "MOCK")
	writeTag(enc, "chNFe", key.String())
	writeTag(enc, "dhRecbto", at.Format(dateTimeLayout))
	writeTag(enc, "nProt", protocol)
	writeTag(enc, "cStat", cStatAuthorized)
	writeTag(enc, "xMotivo", "Autorizado o uso da NF-e")
	closeTag(enc, "infProt")
	_ = enc.EncodeToken(root.End())
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
