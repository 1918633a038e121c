package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/jhoicas/nfe-emissor/internal/application/emission"
	nfedomain "github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	infranfe "github.com/jhoicas/nfe-emissor/internal/infrastructure/nfe"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/nfe/signer"
	infrapdf "github.com/jhoicas/nfe-emissor/internal/infrastructure/pdf"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/postgres"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/telemetry"
	httpRouter "github.com/jhoicas/nfe-emissor/internal/interfaces/http"
	"github.com/jhoicas/nfe-emissor/pkg/config"
	"github.com/jhoicas/nfe-emissor/pkg/logger"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

const resumeBatchLimit = 100

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("nfe_env", cfg.NFe.Env).
		Msg("iniciando aplicación")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migraciones")
	}

	documentRepo := postgres.NewFiscalDocumentRepository(pool)
	txRunner := postgres.NewTxRunner(pool)
	metrics := telemetry.NewEmissionMetrics("nfe")

	credential := loadCredential(cfg.NFe, log)
	if !credential.IsValidAt(time.Now()) {
		log.Warn().Time("not_after", credential.Certificate().NotAfter).Msg("el certificado A1 no está vigente; las firmas fallarán")
	}

	// Canal SEFAZ: simulado en dev, SOAP con TLS mutuo en test/prod.
	var channel pkgnfe.Channel
	if cfg.NFe.Env == infranfe.AppEnvDev {
		channel = infranfe.NewMockChannel()
	} else {
		clientCert := credential.TLSCertificate()
		channel, err = infranfe.NewSOAPSefazClient(infranfe.SOAPConfig{
			Env:            cfg.NFe.Env,
			AutorizacaoURL: cfg.NFe.AutorizacaoURL,
			ConsultaURL:    cfg.NFe.ConsultaURL,
			Timeout:        cfg.NFe.RequestTimeout,
			ClientCert:     &clientCert,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("cliente SOAP SEFAZ")
		}
	}

	composerOpts := []nfedomain.ComposerOption{
		nfedomain.WithTextNormalizer(infranfe.NewTextNormalizer(cfg.NFe.StripAccents)),
	}
	if cfg.NFe.VerProc != "" {
		composerOpts = append(composerOpts, nfedomain.WithProcessVersion(cfg.NFe.VerProc))
	}
	composer := nfedomain.NewComposer(composerOpts...)

	coordinator := emission.NewCoordinator(channel, documentRepo, emission.RetryPolicy{
		MaxRetries:     cfg.NFe.MaxRetries,
		Initial:        cfg.NFe.BackoffInitial,
		Max:            cfg.NFe.BackoffMax,
		RequestTimeout: cfg.NFe.RequestTimeout,
	}, log, emission.WithMetrics(metrics), emission.WithProcBuilder(infranfe.BuildProc))

	service := emission.NewService(
		composer, infranfe.NewXMLBuilderService(), signer.NewDigitalSignatureService(), credential,
		documentRepo, txRunner, coordinator, metrics, log,
		emission.Config{Workers: cfg.NFe.Workers},
	)
	danfeUC := emission.NewDANFEUseCase(service, infrapdf.NewDANFEGenerator())

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.NFe.RequestTimeout*time.Duration(cfg.NFe.MaxRetries+2) + cfg.NFe.BackoffMax,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "NF-e Emissor API",
	}))

	deps := httpRouter.RouterDeps{
		Emission:  service,
		DANFE:     danfeUC,
		Health:    pool.Ping,
		AppName:   cfg.App.Name,
		JWTSecret: cfg.JWT.Secret,
		JWTIssuer: cfg.JWT.Issuer,
		Log:       log,
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.Handler()
	}
	httpRouter.Router(app, deps)

	// Reanudador: documentos que quedaron en SIGNED, SUBMITTING o PENDING
	// tras una caída o un envío interrumpido.
	resumerDone := make(chan struct{})
	go func() {
		defer close(resumerDone)
		runResumer(ctx, service, cfg.NFe.ResumeInterval, log)
	}()

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	<-resumerDone

	log.Info().Msg("aplicación detenida")
}

func loadCredential(cfg config.NFeConfig, log *logger.Logger) *signer.A1Credential {
	if cfg.CertPath == "" {
		cred, err := signer.NewDevCredential("NFE EMISSOR DEV", time.Now())
		if err != nil {
			log.Fatal().Err(err).Msg("credencial dev")
		}
		log.Warn().Msg("sin NFE_CERT_PATH: usando certificado autofirmado (solo canal simulado)")
		return cred
	}
	cred, err := signer.Load(cfg.CertPath, cfg.CertKeyPath, cfg.CertPassword)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.CertPath).Msg("cargar certificado A1")
	}
	log.Info().
		Str("subject", cred.Certificate().Subject.CommonName).
		Time("not_after", cred.Certificate().NotAfter).
		Msg("certificado A1 cargado")
	return cred
}

func runResumer(ctx context.Context, service *emission.Service, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := service.ResumePending(ctx, interval, resumeBatchLimit)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("reanudación de documentos pendientes")
		} else if n > 0 {
			log.Info().Int("documents", n).Msg("documentos reanudados")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
