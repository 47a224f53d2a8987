package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"dealgraph.org/common"
)

// sinceParam parses ?since as RFC 3339, defaulting to the last 30 days.
func sinceParam(c echo.Context) (time.Time, error) {
	raw := c.QueryParam("since")
	if raw == "" {
		return time.Now().UTC().AddDate(0, 0, -30), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, common.E(common.KindValidation, "since must be RFC 3339")
	}
	return t, nil
}

// UsageByOrg reports spend across all organizations; superadmin only.
func (h *Handlers) UsageByOrg(c echo.Context) error {
	if err := requireRole(c, "superadmin"); err != nil {
		return err
	}
	since, err := sinceParam(c)
	if err != nil {
		return respondError(c, err)
	}
	summaries, err := h.Recorder.SummarizeByOrg(c.Request().Context(), since)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"organizations": summaries})
}

// UsageByModel reports the caller's own organization; admins may view it.
func (h *Handlers) UsageByModel(c echo.Context) error {
	if err := requireRole(c, "admin"); err != nil {
		return err
	}
	since, err := sinceParam(c)
	if err != nil {
		return respondError(c, err)
	}
	summaries, err := h.Recorder.SummarizeByModel(c.Request().Context(), scopeFrom(c).OrgID, since)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"models": summaries})
}

func (h *Handlers) FeatureUsage(c echo.Context) error {
	if err := requireRole(c, "admin"); err != nil {
		return err
	}
	since, err := sinceParam(c)
	if err != nil {
		return respondError(c, err)
	}
	counts, err := h.Recorder.CountFeatures(c.Request().Context(), scopeFrom(c).OrgID, since)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"features": counts})
}

func (h *Handlers) UsageAlerts(c echo.Context) error {
	if err := requireRole(c, "superadmin"); err != nil {
		return err
	}
	alerts, err := h.Recorder.CheckAlerts(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"alerts": alerts})
}

func (h *Handlers) ListFlags(c echo.Context) error {
	if err := requireRole(c, "superadmin"); err != nil {
		return err
	}
	flags, err := h.Store.Flags.ListFlags(c.Request().Context(), scopeFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"flags": flags})
}

type setFlagRequest struct {
	Enabled   bool   `json:"enabled"`
	RiskLevel string `json:"risk_level"`
}

// SetFlag toggles a feature flag; superadmin only because flags gate
// destructive cascades.
func (h *Handlers) SetFlag(c echo.Context) error {
	if err := requireRole(c, "superadmin"); err != nil {
		return err
	}
	var req setFlagRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.RiskLevel == "" {
		req.RiskLevel = "low"
	}
	name := c.Param("name")
	err := h.Store.Flags.Set(c.Request().Context(), scopeFrom(c), name, req.Enabled, req.RiskLevel)
	if err != nil {
		return respondError(c, err)
	}
	h.audit(c, "flag.changed", map[string]interface{}{"flag": name, "enabled": req.Enabled})
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) ListAuditEvents(c echo.Context) error {
	if err := requireRole(c, "admin"); err != nil {
		return err
	}
	since, err := sinceParam(c)
	if err != nil {
		return respondError(c, err)
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	events, err := h.Store.Audit.List(c.Request().Context(), scopeFrom(c),
		c.QueryParam("event_type"), since, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"events": events})
}
