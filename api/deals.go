package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"dealgraph.org/checkpoint"
	"dealgraph.org/common"
	"dealgraph.org/db"
)

type createDealRequest struct {
	Name        string `json:"name"`
	CompanyName string `json:"company_name"`
	Industry    string `json:"industry"`
}

func (h *Handlers) CreateDeal(c echo.Context) error {
	scope := scopeFrom(c)
	var req createDealRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Name == "" {
		return respondError(c, common.E(common.KindValidation, "name is required"))
	}

	deal := &db.Deal{
		OrganizationID: scope.OrgID,
		UserID:         scope.UserID,
		Name:           req.Name,
		CompanyName:    req.CompanyName,
		Industry:       req.Industry,
	}
	if err := h.Store.Deals.CreateDeal(c.Request().Context(), scope, deal); err != nil {
		return respondError(c, err)
	}
	h.audit(c, "deal.created", map[string]interface{}{"deal_id": deal.ID})
	return c.JSON(http.StatusCreated, deal)
}

func (h *Handlers) GetDeal(c echo.Context) error {
	deal, err := h.Store.Deals.GetDeal(c.Request().Context(), scopeFrom(c), c.Param("dealID"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, deal)
}

func (h *Handlers) ListDeals(c echo.Context) error {
	deals, err := h.Store.Deals.ListDeals(c.Request().Context(), scopeFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"deals": deals})
}

// DeleteDeal cascades across every store holding deal data: blobs, the
// knowledge graph, workflow checkpoints, cached retrievals, and finally the
// relational rows.
func (h *Handlers) DeleteDeal(c echo.Context) error {
	if err := requireRole(c, "admin"); err != nil {
		return err
	}
	scope := scopeFrom(c)
	ctx := c.Request().Context()
	dealID := c.Param("dealID")

	// Ownership check first so a foreign deal 404s before any side effects.
	if _, err := h.Store.Deals.GetDeal(ctx, scope, dealID); err != nil {
		return respondError(c, err)
	}

	if h.Blobs != nil {
		if _, err := h.Blobs.DeletePrefix(ctx, scope.OrgID+"/"+dealID+"/"); err != nil {
			return respondError(c, err)
		}
	}
	if h.Graph != nil {
		if _, err := h.Graph.DeleteGroup(ctx, common.GroupID(scope.OrgID, dealID)); err != nil {
			return respondError(c, err)
		}
	}
	if h.Checkpoints != nil {
		for _, prefix := range checkpoint.DealThreadPrefixes(dealID) {
			if _, err := h.Checkpoints.DeleteThreadPrefix(ctx, prefix); err != nil {
				return respondError(c, err)
			}
		}
	}
	if h.Retriever != nil {
		h.Retriever.InvalidateGroup(ctx, common.GroupID(scope.OrgID, dealID))
	}

	if err := h.Store.Deals.DeleteDeal(ctx, scope, dealID); err != nil {
		return respondError(c, err)
	}
	h.audit(c, "deal.deleted", map[string]interface{}{"deal_id": dealID})
	return c.NoContent(http.StatusNoContent)
}

// audit records a security-relevant event; failures are logged, never
// surfaced.
func (h *Handlers) audit(c echo.Context, eventType string, metadata map[string]interface{}) {
	scope := scopeFrom(c)
	userID := scope.UserID
	event := &db.AuditLog{
		EventType: eventType,
		UserID:    &userID,
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
		Metadata:  db.JSONMap(metadata),
		Success:   true,
	}
	if err := h.Store.Audit.Record(c.Request().Context(), event); err != nil {
		common.Logger.WithError(err).Warn("audit record failed")
	}
}
