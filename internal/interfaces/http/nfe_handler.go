package http

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/nfe-emissor/internal/application/dto"
	"github.com/jhoicas/nfe-emissor/internal/application/emission"
	"github.com/jhoicas/nfe-emissor/internal/domain"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	nfedomain "github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	"github.com/jhoicas/nfe-emissor/pkg/logger"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// Roles aceptados en el claim role.
const (
	RoleEmitter  = "emitter"  // emite y reanuda
	RoleOperator = "operator" // consulta y reanuda
)

// EmissionService operaciones de emisión que expone la API.
type EmissionService interface {
	Issue(ctx context.Context, sale *entity.Sale) (*nfedomain.FiscalDocument, error)
	IssueBatch(ctx context.Context, sales []*entity.Sale) []emission.BatchResult
	Get(ctx context.Context, key string) (*nfedomain.FiscalDocument, error)
	XML(ctx context.Context, key string) ([]byte, error)
	Resume(ctx context.Context, key string) (*nfedomain.FiscalDocument, error)
}

// DANFEDownloader genera el PDF de una NF-e autorizada.
type DANFEDownloader interface {
	DownloadDANFE(ctx context.Context, emitterCNPJ, key string) ([]byte, string, error)
}

// NFeHandler maneja las peticiones HTTP de emisión de NF-e (protegido).
type NFeHandler struct {
	service EmissionService
	danfe   DANFEDownloader
	log     *logger.Logger
}

// NewNFeHandler construye el handler.
func NewNFeHandler(service EmissionService, danfe DANFEDownloader, log *logger.Logger) *NFeHandler {
	return &NFeHandler{service: service, danfe: danfe, log: log}
}

// Issue emite una NF-e a partir de una venta.
// POST /api/nfe
func (h *NFeHandler) Issue(c *fiber.Ctx) error {
	var in dto.IssueRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if err := dto.Validate(in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	}
	if pkgnfe.OnlyDigits(in.Emitter.CNPJ) != GetCNPJ(c) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "el token no autoriza a emitir por este CNPJ"})
	}
	fd, err := h.service.Issue(c.UserContext(), in.ToSale())
	if err != nil {
		return h.writeIssueError(c, fd, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewDocumentResponse(fd))
}

// Batch emite varias ventas. La respuesta conserva el orden de entrada y
// cada elemento trae su documento o su error.
// POST /api/nfe/batch
func (h *NFeHandler) Batch(c *fiber.Ctx) error {
	var in dto.BatchIssueRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if err := dto.Validate(in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	}
	cnpj := GetCNPJ(c)
	sales := make([]*entity.Sale, len(in.Sales))
	for i, s := range in.Sales {
		if pkgnfe.OnlyDigits(s.Emitter.CNPJ) != cnpj {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Code:    "FORBIDDEN",
				Message: "venta " + strconv.Itoa(i) + ": el token no autoriza a emitir por este CNPJ",
			})
		}
		sales[i] = s.ToSale()
	}
	results := h.service.IssueBatch(c.UserContext(), sales)
	out := make([]dto.BatchItemResponse, len(results))
	for i, r := range results {
		out[i].SaleID = r.SaleID
		if r.Document != nil {
			doc := dto.NewDocumentResponse(r.Document)
			out[i].Document = &doc
		}
		if r.Err != nil {
			_, code, msg := classify(r.Err)
			out[i].Error = &dto.ErrorResponse{Code: code, Message: msg}
		}
	}
	return c.Status(fiber.StatusMultiStatus).JSON(out)
}

// Get devuelve el registro de estado con su historial de transiciones.
// GET /api/nfe/:key
func (h *NFeHandler) Get(c *fiber.Ctx) error {
	fd, err := h.owned(c)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(dto.NewDocumentResponse(fd))
}

// XML devuelve el nfeProc (autorizada) o el XML firmado.
// GET /api/nfe/:key/xml
func (h *NFeHandler) XML(c *fiber.Ctx) error {
	fd, err := h.owned(c)
	if err != nil {
		return h.writeError(c, err)
	}
	body, err := h.service.XML(c.UserContext(), fd.AccessKey.String())
	if err != nil {
		return h.writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationXMLCharsetUTF8)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+fd.AccessKey.String()+`-nfe.xml"`)
	return c.Send(body)
}

// DANFE devuelve el PDF de la NF-e autorizada.
// GET /api/nfe/:key/danfe
func (h *NFeHandler) DANFE(c *fiber.Ctx) error {
	pdf, filename, err := h.danfe.DownloadDANFE(c.UserContext(), GetCNPJ(c), c.Params("key"))
	if err != nil {
		return h.writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `inline; filename="`+filename+`"`)
	return c.Send(pdf)
}

// Resume retoma un documento sin respuesta definitiva (consulta antes de reenviar).
// POST /api/nfe/:key/resume
func (h *NFeHandler) Resume(c *fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return h.writeError(c, err)
	}
	fd, err := h.service.Resume(c.UserContext(), c.Params("key"))
	if err != nil {
		return h.writeIssueError(c, fd, err)
	}
	return c.JSON(dto.NewDocumentResponse(fd))
}

// owned carga el documento de :key y verifica que pertenezca al CNPJ del token.
func (h *NFeHandler) owned(c *fiber.Ctx) (*nfedomain.FiscalDocument, error) {
	fd, err := h.service.Get(c.UserContext(), c.Params("key"))
	if err != nil {
		return nil, err
	}
	if fd.EmitterCNPJ != GetCNPJ(c) {
		return nil, domain.ErrForbidden
	}
	return fd, nil
}

// writeIssueError responde con el documento (si existe) y el código del error.
func (h *NFeHandler) writeIssueError(c *fiber.Ctx, fd *nfedomain.FiscalDocument, err error) error {
	if fd == nil {
		return h.writeError(c, err)
	}
	status, _, msg := classify(err)
	if status == fiber.StatusInternalServerError {
		h.log.Error().Err(err).Str("access_key", fd.AccessKey.String()).Msg("emisión con error interno")
	}
	resp := dto.NewDocumentResponse(fd)
	resp.Error = msg
	return c.Status(status).JSON(resp)
}

func (h *NFeHandler) writeError(c *fiber.Ctx, err error) error {
	status, code, msg := classify(err)
	if status == fiber.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.Path()).Msg("error interno")
	}
	return c.Status(status).JSON(dto.ErrorResponse{Code: code, Message: msg})
}

// classify traduce errores de dominio a HTTP.
func classify(err error) (int, string, string) {
	var rejected *nfedomain.AuthorityRejectedError
	switch {
	case errors.As(err, &rejected):
		return fiber.StatusConflict, "REJECTED_" + rejected.Code, rejected.Reason
	case errors.Is(err, nfedomain.ErrIncompleteData), errors.Is(err, nfedomain.ErrValidation):
		return fiber.StatusUnprocessableEntity, "INVALID_SALE", err.Error()
	case errors.Is(err, domain.ErrInvalidInput):
		return fiber.StatusBadRequest, "VALIDATION", err.Error()
	case errors.Is(err, nfedomain.ErrAuthorityUnavailable):
		return fiber.StatusServiceUnavailable, "AUTHORITY_UNAVAILABLE", err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusAccepted, "IN_PROGRESS", "envío interrumpido; el documento se reanudará"
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicate):
		return fiber.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, "NOT_FOUND", "NF-e no encontrada"
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden, "FORBIDDEN", "acceso denegado"
	case errors.Is(err, nfedomain.ErrInvalidCredential):
		return fiber.StatusInternalServerError, "INVALID_CREDENTIAL", err.Error()
	default:
		return fiber.StatusInternalServerError, "INTERNAL", err.Error()
	}
}
