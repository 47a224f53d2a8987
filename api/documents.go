package api

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"dealgraph.org/common"
	"dealgraph.org/db"
	"dealgraph.org/db/repository"
	"dealgraph.org/queue"
	"dealgraph.org/storage"
	"dealgraph.org/usage"
)

// maxUploadBytes is the per-file ceiling; the server-wide body limit is
// enforced by middleware on top of this.
const maxUploadBytes = 100 << 20

// UploadDocument accepts a multipart upload, stores the blob, creates the
// document row, and starts the ingestion pipeline.
func (h *Handlers) UploadDocument(c echo.Context) error {
	scope := scopeFrom(c)
	ctx := c.Request().Context()
	dealID := c.Param("dealID")

	// The deal lookup doubles as the tenancy check.
	if _, err := h.Store.Deals.GetDeal(ctx, scope, dealID); err != nil {
		return respondError(c, err)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return respondError(c, common.E(common.KindValidation, "multipart field 'file' is required"))
	}
	if fileHeader.Size > maxUploadBytes {
		return respondError(c, common.Ef(common.KindValidation,
			"file exceeds the %s upload limit", humanize.IBytes(maxUploadBytes)))
	}

	src, err := fileHeader.Open()
	if err != nil {
		return respondError(c, common.Wrap(common.KindTransientIO, "failed to read upload", err))
	}
	defer src.Close()

	doc := &db.Document{
		ID:           uuid.NewString(),
		DealID:       dealID,
		Name:         fileHeader.Filename,
		FileSize:     fileHeader.Size,
		MimeType:     fileHeader.Header.Get("Content-Type"),
		FolderPath:   c.FormValue("folder"),
		Category:     c.FormValue("category"),
		UploadStatus: "uploaded",
	}
	if doc.FolderPath == "" {
		doc.FolderPath = "/"
	}
	doc.BlobPath = storage.BlobKey(scope.OrgID, dealID, doc.ID, fileHeader.Filename)

	// Blob first, row second: a worker must never claim a document whose
	// bytes are not in place yet.
	if err := h.Blobs.Upload(ctx, doc.BlobPath, doc.MimeType, src); err != nil {
		return respondError(c, err)
	}
	if err := h.Store.Documents.CreateDocument(ctx, scope, doc); err != nil {
		if derr := h.Blobs.Delete(ctx, doc.BlobPath); derr != nil {
			common.Logger.WithError(derr).WithField("key", doc.BlobPath).
				Warn("failed to clean up orphaned blob")
		}
		return respondError(c, err)
	}

	jobID, err := h.Orchestrator.StartIngestion(ctx, scope, doc)
	if errors.Is(err, queue.ErrDuplicate) {
		return duplicateJobConflict(c, jobID)
	}
	if err != nil {
		return respondError(c, err)
	}

	h.audit(c, "document.uploaded", map[string]interface{}{
		"document_id": doc.ID, "deal_id": dealID, "size": fileHeader.Size,
	})
	if h.Recorder != nil {
		tctx := usage.WithTenant(ctx, usage.Tenant{OrgID: scope.OrgID, DealID: dealID, UserID: scope.UserID})
		h.Recorder.RecordFeature(tctx, "document_upload", map[string]interface{}{
			"document_id": doc.ID, "size": fileHeader.Size,
		})
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"document": doc,
		"job_id":   jobID,
	})
}

func (h *Handlers) GetDocument(c echo.Context) error {
	doc, err := h.Store.Documents.GetDocument(c.Request().Context(), scopeFrom(c), c.Param("documentID"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *Handlers) ListDocuments(c echo.Context) error {
	docs, err := h.Store.Documents.ListDocuments(c.Request().Context(), scopeFrom(c),
		c.Param("dealID"), c.QueryParam("folder"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"documents": docs})
}

func (h *Handlers) DeleteDocument(c echo.Context) error {
	scope := scopeFrom(c)
	ctx := c.Request().Context()
	documentID := c.Param("documentID")

	doc, err := h.Store.Documents.GetDocument(ctx, scope, documentID)
	if err != nil {
		return respondError(c, err)
	}
	if doc.BlobPath != "" && h.Blobs != nil {
		if err := h.Blobs.Delete(ctx, doc.BlobPath); err != nil {
			return respondError(c, err)
		}
	}
	if err := h.Store.Documents.DeleteDocument(ctx, scope, documentID); err != nil {
		return respondError(c, err)
	}
	if h.Retriever != nil {
		h.Retriever.InvalidateGroup(ctx, common.GroupID(scope.OrgID, doc.DealID))
	}
	h.audit(c, "document.deleted", map[string]interface{}{"document_id": documentID})
	return c.NoContent(http.StatusNoContent)
}

// RetryDocument resumes a failed pipeline from the last completed stage.
func (h *Handlers) RetryDocument(c echo.Context) error {
	jobID, err := h.Orchestrator.RetryDocument(c.Request().Context(), scopeFrom(c), c.Param("documentID"))
	if errors.Is(err, queue.ErrDuplicate) {
		return duplicateJobConflict(c, jobID)
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"job_id": jobID})
}

// DownloadDocument returns a short-lived signed URL instead of proxying the
// blob through the API.
func (h *Handlers) DownloadDocument(c echo.Context) error {
	scope := scopeFrom(c)
	ctx := c.Request().Context()

	doc, err := h.Store.Documents.GetDocument(ctx, scope, c.Param("documentID"))
	if err != nil {
		return respondError(c, err)
	}
	url, err := h.Blobs.PresignDownload(ctx, doc.BlobPath, 0)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"url": url})
}

type uploadWebhookRequest struct {
	OrgID      string `json:"org_id"`
	DealID     string `json:"deal_id"`
	DocumentID string `json:"document_id"`
}

// DocumentUploadedWebhook lets the upload frontend signal that a direct
// (presigned) upload completed. Authenticated by the shared secret.
func (h *Handlers) DocumentUploadedWebhook(c echo.Context) error {
	secret := c.Request().Header.Get("X-Webhook-Secret")
	if h.WebhookSecret == "" ||
		subtle.ConstantTimeCompare([]byte(secret), []byte(h.WebhookSecret)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
	}

	var req uploadWebhookRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.OrgID == "" || req.DealID == "" || req.DocumentID == "" {
		return respondError(c, common.E(common.KindValidation, "org_id, deal_id, and document_id are required"))
	}

	scope := repository.Scope{OrgID: req.OrgID}
	doc, err := h.Store.Documents.GetDocument(c.Request().Context(), scope, req.DocumentID)
	if err != nil {
		return respondError(c, err)
	}

	jobID, err := h.Orchestrator.StartIngestion(c.Request().Context(), scope, doc)
	if errors.Is(err, queue.ErrDuplicate) {
		return duplicateJobConflict(c, jobID)
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"job_id": jobID})
}
