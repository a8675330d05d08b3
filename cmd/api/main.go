package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/jhoicas/ecf-core/internal/application/billing"
	"github.com/jhoicas/ecf-core/internal/application/contingency"
	"github.com/jhoicas/ecf-core/internal/application/sequence"
	"github.com/jhoicas/ecf-core/internal/domain/repository"
	ecfxml "github.com/jhoicas/ecf-core/internal/infrastructure/ecf"
	"github.com/jhoicas/ecf-core/internal/infrastructure/ecf/signer"
	"github.com/jhoicas/ecf-core/internal/infrastructure/memory"
	"github.com/jhoicas/ecf-core/internal/infrastructure/postgres"
	httpRouter "github.com/jhoicas/ecf-core/internal/interfaces/http"
	"github.com/jhoicas/ecf-core/pkg/config"
	"github.com/jhoicas/ecf-core/pkg/ecf"
	"github.com/jhoicas/ecf-core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.Log.Level,
		Service: cfg.App.Name,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("authority_env", cfg.Authority.Environment).
		Msg("iniciando aplicación")

	env, err := ecf.ParseEnvironment(cfg.Authority.Environment)
	if err != nil {
		log.Fatal().Err(err).Msg("ambiente de la autoridad")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Persistencia: PostgreSQL o memoria (DB_ENABLED=false, solo desarrollo)
	var (
		seqRepo repository.SequenceRepository
		seqTx   repository.SequenceTxRunner
		subRepo repository.ContingencyRepository
		docRepo repository.DocumentRepository
	)
	if cfg.DB.Enabled {
		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a PostgreSQL")
		}
		defer pool.Close()
		if cfg.DB.AutoMigrate {
			applied, err := postgres.Migrate(ctx, pool)
			if err != nil {
				log.Fatal().Err(err).Msg("migraciones")
			}
			for _, m := range applied {
				log.Info().Str("migration", m).Msg("migración aplicada")
			}
		}
		seqRepo = postgres.NewSequenceRepository(pool)
		seqTx = postgres.NewTxRunner(pool)
		subRepo = postgres.NewContingencyRepository(pool)
		docRepo = postgres.NewDocumentRepository(pool)
	} else {
		log.Warn().Msg("DB_ENABLED=false: secuencias y cola de contingencia en memoria")
		mem := memory.NewSequenceRepo()
		seqRepo, seqTx = mem, mem
		subRepo = memory.NewContingencyRepo()
		docRepo = memory.NewDocumentRepo()
	}

	// Firma y certificados
	vault := signer.NewVault(log)
	signerSvc := signer.NewDigitalSignatureService(log)
	if cfg.Cert.Path != "" {
		if cfg.Issuer.ID == "" {
			log.Fatal().Msg("CERT_PATH requiere ISSUER_ID")
		}
		cert, err := vault.LoadFile(cfg.Issuer.ID, cfg.Cert.Path, cfg.Cert.KeyPath, cfg.Cert.Password)
		if err != nil {
			log.Fatal().Err(err).Msg("cargar certificado del emisor")
		}
		log.Info().
			Str("subject", cert.SubjectName).
			Time("not_after", cert.NotAfter).
			Msg("certificado cargado")
	}

	// Autoridad tributaria
	authority := ecfxml.NewAuthorityClient(ecfxml.AuthorityClientConfig{
		Environment: env,
		BaseURL:     cfg.Authority.BaseURL,
		Timeout:     cfg.Authority.Timeout,
	}, log)
	sessions := ecfxml.NewSessions(authority, vault, signerSvc, cfg.Authority.TokenSkew, log)
	taxIDs := map[string]string{}
	if cfg.Issuer.ID != "" {
		taxIDs[cfg.Issuer.ID] = cfg.Issuer.TaxID
	}
	lookup := ecfxml.NewNCFLookup(authority, sessions, ecfxml.StaticTaxIDs(taxIDs))

	// Secuencias NCF
	sequences := sequence.NewStore(seqRepo, seqTx, log)

	// Contingencia: cola por emisor, reintentos según política
	policy := contingency.Policy{
		MaxAttempts: cfg.Contingency.MaxAttempts,
		Backoff:     contingency.BackoffKind(cfg.Contingency.Backoff),
		BaseDelay:   cfg.Contingency.BaseDelay,
		MaxDelay:    cfg.Contingency.MaxDelay,
	}
	if err := policy.Validate(); err != nil {
		log.Fatal().Err(err).Msg("política de contingencia")
	}
	registry := contingency.NewRegistry(contingency.Options{
		Repo:        subRepo,
		Resubmitter: billing.NewAuthorityResubmitter(sessions, authority),
		Notifier: contingency.Notifiers{
			contingency.NewLogNotifier(log),
			billing.NewDocumentStatusNotifier(docRepo, log),
		},
		Policy:      policy,
		Log:         log,
		BaseContext: ctx,
	})

	issuance := billing.NewIssuanceOrchestrator(vault, sequences, signerSvc, sessions, authority, registry, docRepo, env, log)
	status := billing.NewStatusUseCase(docRepo, sessions, authority, log)

	// Sonda de conectividad y drenado periódico de todas las colas; las de emisores que llegan
	// por el token se crean bajo demanda. ISSUER_ID solo precrea la suya.
	monitor := contingency.NewMonitor(authority, registry, []string{cfg.Issuer.ID},
		cfg.Contingency.ProbeInterval, cfg.Contingency.DrainInterval, log)
	go monitor.Run(ctx)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		BodyLimit:    cfg.HTTP.BodyLimit,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.Authority.Timeout + 10*time.Second,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "e-CF Core API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		out := fiber.Map{"status": "ok", "service": cfg.App.Name, "authority_env": string(env)}
		if cfg.Issuer.ID != "" {
			out["contingency"] = registry.Queue(cfg.Issuer.ID).IsActive()
		}
		return c.JSON(out)
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		Issuance:    issuance,
		Status:      status,
		Signer:      signerSvc,
		Sequences:   sequences,
		Lookup:      lookup,
		Vault:       vault,
		Contingency: registry,
		JWTSecret:   cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("aplicación detenida")
}
