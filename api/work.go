package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"dealgraph.org/common"
	"dealgraph.org/db"
)

type qaItemRequest struct {
	Question        string     `json:"question"`
	Category        string     `json:"category"`
	Priority        string     `json:"priority"`
	Answer          string     `json:"answer"`
	SourceFindingID *string    `json:"source_finding_id"`
	DateAnswered    *time.Time `json:"date_answered"`

	// ExpectedUpdatedAt is the updated_at the client last read; updates with
	// a stale token are rejected with 409.
	ExpectedUpdatedAt time.Time `json:"expected_updated_at"`
}

func (h *Handlers) CreateQAItem(c echo.Context) error {
	scope := scopeFrom(c)
	var req qaItemRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Question == "" {
		return respondError(c, common.E(common.KindValidation, "question is required"))
	}

	item := &db.QAItem{
		DealID:          c.Param("dealID"),
		Question:        req.Question,
		Category:        req.Category,
		Priority:        req.Priority,
		Answer:          req.Answer,
		SourceFindingID: req.SourceFindingID,
	}
	if item.Category == "" {
		item.Category = "Financials"
	}
	if item.Priority == "" {
		item.Priority = "medium"
	}
	if err := h.Store.Work.CreateQAItem(c.Request().Context(), scope, item); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *Handlers) ListQAItems(c echo.Context) error {
	items, err := h.Store.Work.ListQAItems(c.Request().Context(), scopeFrom(c), c.Param("dealID"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handlers) UpdateQAItem(c echo.Context) error {
	scope := scopeFrom(c)
	var req qaItemRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.ExpectedUpdatedAt.IsZero() {
		return respondError(c, common.E(common.KindValidation, "expected_updated_at is required"))
	}

	item := &db.QAItem{
		ID:           c.Param("itemID"),
		Question:     req.Question,
		Category:     req.Category,
		Priority:     req.Priority,
		Answer:       req.Answer,
		DateAnswered: req.DateAnswered,
	}
	if req.Answer != "" && req.DateAnswered == nil {
		now := time.Now().UTC()
		item.DateAnswered = &now
	}
	err := h.Store.Work.UpdateQAItem(c.Request().Context(), scope, item, req.ExpectedUpdatedAt)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handlers) DeleteQAItem(c echo.Context) error {
	if err := h.Store.Work.DeleteQAItem(c.Request().Context(), scopeFrom(c), c.Param("itemID")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type irlItemRequest struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

type createIRLRequest struct {
	Name string `json:"name"`
	// Template seeds the list from a built-in catalog; explicit items are
	// appended after the template's.
	Template string           `json:"template"`
	Items    []irlItemRequest `json:"items"`
}

func (h *Handlers) CreateIRL(c echo.Context) error {
	scope := scopeFrom(c)
	var req createIRLRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Name == "" {
		return respondError(c, common.E(common.KindValidation, "name is required"))
	}

	irl := &db.IRL{
		DealID: c.Param("dealID"),
		Name:   req.Name,
	}
	items := make([]db.IRLItem, 0, len(req.Items))
	if req.Template != "" {
		tmpl, ok := irlTemplates[req.Template]
		if !ok {
			return respondError(c, common.Ef(common.KindValidation,
				"unknown template %q, available: %v", req.Template, irlTemplateNames()))
		}
		for _, it := range tmpl {
			items = append(items, db.IRLItem{
				Category:    it.Category,
				Description: it.Description,
				Priority:    it.Priority,
				Status:      "open",
			})
		}
	}
	for _, it := range req.Items {
		if it.Description == "" {
			return respondError(c, common.E(common.KindValidation, "every item needs a description"))
		}
		priority := it.Priority
		if priority == "" {
			priority = "medium"
		}
		items = append(items, db.IRLItem{
			Category:    it.Category,
			Description: it.Description,
			Priority:    priority,
			Status:      "open",
		})
	}
	if err := h.Store.Work.CreateIRL(c.Request().Context(), scope, irl, items); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"irl": irl, "items": items})
}

func (h *Handlers) GetIRL(c echo.Context) error {
	irl, items, err := h.Store.Work.GetIRL(c.Request().Context(), scopeFrom(c), c.Param("irlID"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"irl": irl, "items": items})
}

func (h *Handlers) ListIRLs(c echo.Context) error {
	irls, err := h.Store.Work.ListIRLs(c.Request().Context(), scopeFrom(c), c.Param("dealID"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"irls": irls})
}

type updateIRLItemRequest struct {
	Status               string  `json:"status"`
	Fulfilled            bool    `json:"fulfilled"`
	FulfillingDocumentID *string `json:"fulfilling_document_id"`
}

func (h *Handlers) UpdateIRLItem(c echo.Context) error {
	scope := scopeFrom(c)
	ctx := c.Request().Context()

	var req updateIRLItemRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	_, items, err := h.Store.Work.GetIRL(ctx, scope, c.Param("irlID"))
	if err != nil {
		return respondError(c, err)
	}
	var item *db.IRLItem
	for i := range items {
		if items[i].ID == c.Param("itemID") {
			item = &items[i]
			break
		}
	}
	if item == nil {
		return respondError(c, common.E(common.KindNotFound, "item not found"))
	}

	if req.Status != "" {
		item.Status = req.Status
	}
	item.Fulfilled = req.Fulfilled
	if req.FulfillingDocumentID != nil {
		item.FulfillingDocumentID = req.FulfillingDocumentID
	}
	if err := h.Store.Work.UpdateIRLItem(ctx, scope, item); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, item)
}
