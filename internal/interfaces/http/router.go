package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/ecf-core/internal/application/billing"
	"github.com/jhoicas/ecf-core/internal/application/contingency"
	"github.com/jhoicas/ecf-core/internal/application/sequence"
	"github.com/jhoicas/ecf-core/internal/infrastructure/ecf/signer"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Issuance    *billing.IssuanceOrchestrator
	Status      *billing.StatusUseCase
	Signer      *signer.DigitalSignatureService
	Sequences   *sequence.Store
	Lookup      sequence.Lookup
	Vault       *signer.Vault
	Contingency *contingency.Registry
	JWTSecret   string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	documentHandler := NewDocumentHandler(deps.Issuance, deps.Status, deps.Signer)

	// Verificación de firma (público)
	api.Post("/documents/verify", documentHandler.Verify)

	// Rutas protegidas (requieren Bearer Token)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret))

	// Comprobantes
	documents := protected.Group("/documents", RequireRole(RoleAdmin, RoleBiller))
	documents.Post("/", documentHandler.Issue)
	documents.Get("/:encf/status", documentHandler.Status)

	// Secuencias NCF
	sequences := protected.Group("/sequences", RequireRole(RoleAdmin))
	sequenceHandler := NewSequenceHandler(deps.Sequences, deps.Lookup)
	sequences.Get("/", sequenceHandler.List)
	sequences.Post("/", sequenceHandler.Register)
	sequences.Put("/", sequenceHandler.Replace)

	// Certificados de firma
	certificates := protected.Group("/certificates", RequireRole(RoleAdmin))
	certificateHandler := NewCertificateHandler(deps.Vault)
	certificates.Get("/", certificateHandler.List)
	certificates.Post("/", certificateHandler.Upload)
	certificates.Delete("/:id", certificateHandler.Deactivate)

	// Contingencia
	cont := protected.Group("/contingency", RequireRole(RoleAdmin, RoleOperator))
	contingencyHandler := NewContingencyHandler(deps.Contingency)
	cont.Get("/", contingencyHandler.Status)
	cont.Get("/events", contingencyHandler.Events)
	cont.Get("/pending", contingencyHandler.Pending)
	cont.Get("/stuck", contingencyHandler.Stuck)
	cont.Post("/activate", contingencyHandler.Activate)
	cont.Post("/deactivate", contingencyHandler.Deactivate)
	cont.Post("/drain", contingencyHandler.Drain)
}
