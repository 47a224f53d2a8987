package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"dealgraph.org/common"
	"dealgraph.org/db"
)

func (h *Handlers) ListFindings(c echo.Context) error {
	findings, err := h.Store.Findings.ListFindings(c.Request().Context(), scopeFrom(c),
		c.Param("dealID"), c.QueryParam("status"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"findings": findings})
}

type correctionRequest struct {
	CorrectedValue      string `json:"corrected_value"`
	CorrectionType      string `json:"correction_type"`
	Reason              string `json:"reason"`
	UserSourceReference string `json:"user_source_reference"`
	ValidationStatus    string `json:"validation_status"`
}

var validCorrectionTypes = map[string]bool{
	"value": true, "source": true, "confidence": true, "text": true,
}

var validValidationStatuses = map[string]bool{
	"pending": true, "confirmed_with_source": true,
	"override_without_source": true, "source_error": true,
}

// CorrectFinding appends an analyst correction. A source_error correction may
// trip the cascade that flags the whole source document as unreliable.
func (h *Handlers) CorrectFinding(c echo.Context) error {
	scope := scopeFrom(c)
	ctx := c.Request().Context()
	findingID := c.Param("findingID")

	var req correctionRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if !validCorrectionTypes[req.CorrectionType] {
		return respondError(c, common.Ef(common.KindValidation,
			"correction_type must be one of value, source, confidence, text"))
	}
	if req.ValidationStatus == "" {
		req.ValidationStatus = "pending"
	}
	if !validValidationStatuses[req.ValidationStatus] {
		return respondError(c, common.E(common.KindValidation, "unknown validation_status"))
	}

	finding, err := h.Store.Findings.GetFinding(ctx, scope, findingID)
	if err != nil {
		return respondError(c, err)
	}

	corr := &db.FindingCorrection{
		FindingID:           findingID,
		OriginalValue:       finding.Text,
		CorrectedValue:      req.CorrectedValue,
		CorrectionType:      req.CorrectionType,
		Reason:              req.Reason,
		UserSourceReference: req.UserSourceReference,
		ValidationStatus:    req.ValidationStatus,
		AnalystID:           scope.UserID,
	}
	if err := h.Store.Findings.RecordCorrection(ctx, scope, corr); err != nil {
		return respondError(c, err)
	}

	var flaggedSiblings int64
	if req.ValidationStatus == "source_error" && finding.DocumentID != nil {
		flaggedSiblings, err = h.Orchestrator.EvaluateSourceErrors(ctx, scope, *finding.DocumentID, findingID)
		if err != nil {
			return respondError(c, err)
		}
	}

	h.audit(c, "finding.corrected", map[string]interface{}{
		"finding_id": findingID, "validation_status": req.ValidationStatus,
	})
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"correction":       corr,
		"flagged_siblings": flaggedSiblings,
	})
}

type validationRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

func (h *Handlers) ValidateFinding(c echo.Context) error {
	scope := scopeFrom(c)
	var req validationRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Action != "validate" && req.Action != "reject" {
		return respondError(c, common.E(common.KindValidation, "action must be validate or reject"))
	}

	fb := &db.ValidationFeedback{
		FindingID: c.Param("findingID"),
		Action:    req.Action,
		Reason:    req.Reason,
		AnalystID: scope.UserID,
	}
	if err := h.Store.Findings.RecordFeedback(c.Request().Context(), scope, fb); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, fb)
}

func (h *Handlers) ListContradictions(c echo.Context) error {
	contradictions, err := h.Store.Findings.ListContradictions(c.Request().Context(), scopeFrom(c), c.Param("dealID"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"contradictions": contradictions})
}

type resolveRequest struct {
	Status     string `json:"status"`
	Resolution string `json:"resolution"`
}

var validResolutionStatuses = map[string]bool{
	"resolved": true, "noted": true, "investigating": true,
}

func (h *Handlers) ResolveContradiction(c echo.Context) error {
	scope := scopeFrom(c)
	var req resolveRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if !validResolutionStatuses[req.Status] {
		return respondError(c, common.E(common.KindValidation,
			"status must be one of resolved, noted, investigating"))
	}

	err := h.Store.Findings.ResolveContradiction(c.Request().Context(), scope,
		c.Param("contradictionID"), req.Status, req.Resolution, scope.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) ListMetrics(c echo.Context) error {
	metrics, err := h.Store.Findings.ListMetrics(c.Request().Context(), scopeFrom(c), c.Param("documentID"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"metrics": metrics})
}
