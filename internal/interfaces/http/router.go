package http

import (
	"context"
	nethttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/jhoicas/nfe-emissor/pkg/logger"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Emission  EmissionService
	DANFE     DANFEDownloader
	Metrics   nethttp.Handler // nil deshabilita /metrics
	Health    func(ctx context.Context) error
	AppName   string
	JWTSecret string
	JWTIssuer string
	Log       *logger.Logger
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		if deps.Health != nil {
			if err := deps.Health(c.UserContext()); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "service": deps.AppName, "error": err.Error()})
			}
		}
		return c.JSON(fiber.Map{"status": "ok", "service": deps.AppName})
	})
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	h := NewNFeHandler(deps.Emission, deps.DANFE, log)

	// Rutas protegidas (requieren Bearer Token)
	nfe := app.Group("/api/nfe", AuthMiddleware(deps.JWTSecret, deps.JWTIssuer))
	nfe.Post("/", RequireRole(RoleEmitter), h.Issue)
	nfe.Post("/batch", RequireRole(RoleEmitter), h.Batch)
	nfe.Get("/:key", h.Get)
	nfe.Get("/:key/xml", h.XML)
	nfe.Get("/:key/danfe", h.DANFE)
	nfe.Post("/:key/resume", RequireRole(RoleEmitter, RoleOperator), h.Resume)
}
