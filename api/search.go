package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"dealgraph.org/common"
	"dealgraph.org/usage"
)

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// HybridSearch runs semantic plus keyword retrieval over the deal room and
// returns the ranked passages with an assembled, citation-numbered context.
func (h *Handlers) HybridSearch(c echo.Context) error {
	scope := scopeFrom(c)
	ctx := c.Request().Context()
	dealID := c.Param("dealID")

	if _, err := h.Store.Deals.GetDeal(ctx, scope, dealID); err != nil {
		return respondError(c, err)
	}

	var req searchRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Query == "" {
		return respondError(c, common.E(common.KindValidation, "query is required"))
	}

	result, err := h.Retriever.Retrieve(ctx, common.GroupID(scope.OrgID, dealID), req.Query, req.Limit)
	if err != nil {
		return respondError(c, err)
	}

	if h.Recorder != nil {
		tctx := usage.WithTenant(ctx, usage.Tenant{OrgID: scope.OrgID, DealID: dealID, UserID: scope.UserID})
		h.Recorder.RecordFeature(tctx, "search", map[string]interface{}{
			"deal_id": dealID, "results": len(result.Passages),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"passages":   result.Passages,
		"context":    result.Context,
		"degraded":   result.Degraded,
		"from_cache": result.FromCache,
	})
}
