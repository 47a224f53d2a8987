package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"dealgraph.org/agent"
	"dealgraph.org/checkpoint"
	"dealgraph.org/db/repository"
	"dealgraph.org/graphiti"
	"dealgraph.org/ingest"
	"dealgraph.org/retrieval"
	"dealgraph.org/storage"
	"dealgraph.org/usage"
)

// Handlers bundles the services the REST surface talks to.
type Handlers struct {
	Store        *repository.Store
	Orchestrator *ingest.Orchestrator
	Retriever    *retrieval.Retriever
	Runner       *agent.Runner
	Blobs        *storage.BlobStore
	Graph        *graphiti.GraphStore
	Checkpoints  *checkpoint.Store
	Recorder     *usage.Recorder
	JWT          *JWTService

	// WebhookSecret authenticates internal callbacks.
	WebhookSecret string
}

// SetupRoutes binds the REST surface onto the server.
func SetupRoutes(e *echo.Echo, h *Handlers) {
	// Internal callbacks authenticate with the shared secret, not a user
	// token.
	e.POST("/webhooks/document-uploaded", h.DocumentUploadedWebhook)

	v1 := e.Group("/api/v1")
	v1.Use(AuthMiddleware(h.JWT))

	v1.GET("/deals", h.ListDeals)
	v1.POST("/deals", h.CreateDeal)
	v1.GET("/deals/:dealID", h.GetDeal)
	v1.DELETE("/deals/:dealID", h.DeleteDeal)

	v1.POST("/deals/:dealID/documents", h.UploadDocument)
	v1.GET("/deals/:dealID/documents", h.ListDocuments)
	v1.GET("/documents/:documentID", h.GetDocument)
	v1.DELETE("/documents/:documentID", h.DeleteDocument)
	v1.POST("/documents/:documentID/retry", h.RetryDocument)
	v1.GET("/documents/:documentID/download", h.DownloadDocument)

	v1.GET("/deals/:dealID/folders", h.ListFolders)
	v1.POST("/deals/:dealID/folders", h.CreateFolder)
	v1.DELETE("/deals/:dealID/folders", h.DeleteFolder)

	v1.POST("/deals/:dealID/search", h.HybridSearch)

	v1.GET("/deals/:dealID/conversations", h.ListConversations)
	v1.POST("/deals/:dealID/conversations", h.CreateConversation)
	v1.GET("/conversations/:conversationID/messages", h.ListMessages)
	v1.POST("/conversations/:conversationID/chat", h.Chat)

	v1.GET("/deals/:dealID/findings", h.ListFindings)
	v1.POST("/findings/:findingID/corrections", h.CorrectFinding)
	v1.POST("/findings/:findingID/validations", h.ValidateFinding)
	v1.GET("/deals/:dealID/contradictions", h.ListContradictions)
	v1.POST("/contradictions/:contradictionID/resolve", h.ResolveContradiction)
	v1.GET("/documents/:documentID/metrics", h.ListMetrics)

	v1.GET("/deals/:dealID/qa", h.ListQAItems)
	v1.POST("/deals/:dealID/qa", h.CreateQAItem)
	v1.PUT("/qa/:itemID", h.UpdateQAItem)
	v1.DELETE("/qa/:itemID", h.DeleteQAItem)

	v1.GET("/deals/:dealID/irls", h.ListIRLs)
	v1.POST("/deals/:dealID/irls", h.CreateIRL)
	v1.GET("/irls/:irlID", h.GetIRL)
	v1.PUT("/irls/:irlID/items/:itemID", h.UpdateIRLItem)

	v1.GET("/deals/:dealID/cims", h.ListCIMs)
	v1.POST("/deals/:dealID/cims", h.CreateCIM)
	v1.GET("/cims/:cimID", h.GetCIM)
	v1.POST("/cims/:cimID/step", h.StepCIM)
	v1.GET("/cims/:cimID/checkpoints", h.ListCIMCheckpoints)

	admin := v1.Group("/admin")
	admin.GET("/usage", h.UsageByOrg)
	admin.GET("/usage/models", h.UsageByModel)
	admin.GET("/usage/features", h.FeatureUsage)
	admin.GET("/usage/alerts", h.UsageAlerts)
	admin.GET("/flags", h.ListFlags)
	admin.PUT("/flags/:name", h.SetFlag)
	admin.GET("/audit", h.ListAuditEvents)
}

// bindJSON decodes the request body with a uniform validation error.
func bindJSON(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	return nil
}
