package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"dealgraph.org/checkpoint"
	"dealgraph.org/common"
	"dealgraph.org/db"
)

type createCIMRequest struct {
	Name             string `json:"name"`
	BuyerPersona     string `json:"buyer_persona"`
	InvestmentThesis string `json:"investment_thesis"`
}

func (h *Handlers) CreateCIM(c echo.Context) error {
	scope := scopeFrom(c)
	var req createCIMRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Name == "" {
		return respondError(c, common.E(common.KindValidation, "name is required"))
	}

	cim := &db.CIM{
		DealID:           c.Param("dealID"),
		Name:             req.Name,
		BuyerPersona:     req.BuyerPersona,
		InvestmentThesis: req.InvestmentThesis,
		WorkflowState:    db.JSONMap{"phase": "outline"},
	}
	if err := h.Store.CIMs.CreateCIM(c.Request().Context(), scope, cim); err != nil {
		return respondError(c, err)
	}
	h.audit(c, "cim.created", map[string]interface{}{"cim_id": cim.ID})
	return c.JSON(http.StatusCreated, cim)
}

func (h *Handlers) GetCIM(c echo.Context) error {
	cim, err := h.Store.CIMs.GetCIM(c.Request().Context(), scopeFrom(c), c.Param("cimID"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, cim)
}

func (h *Handlers) ListCIMs(c echo.Context) error {
	cims, err := h.Store.CIMs.ListCIMs(c.Request().Context(), scopeFrom(c), c.Param("dealID"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"cims": cims})
}

type stepCIMRequest struct {
	Instruction string `json:"instruction"`
	// StatePatch is merged over the current workflow state. The merged state
	// is checkpointed before the row is updated, so a crash between the two
	// writes loses nothing.
	StatePatch map[string]interface{} `json:"state_patch"`
	// CheckpointID lets a client retrying a step reuse its key; the duplicate
	// save is then a no-op instead of a forked history.
	CheckpointID string `json:"checkpoint_id"`
}

// StepCIM advances the authoring workflow by one step. Every step is durably
// checkpointed on the CIM's thread, so the workflow survives restarts and can
// be rewound to any prior checkpoint.
func (h *Handlers) StepCIM(c echo.Context) error {
	scope := scopeFrom(c)
	ctx := c.Request().Context()
	cimID := c.Param("cimID")

	var req stepCIMRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Instruction == "" && len(req.StatePatch) == 0 {
		return respondError(c, common.E(common.KindValidation, "instruction or state_patch is required"))
	}

	cim, err := h.Store.CIMs.GetCIM(ctx, scope, cimID)
	if err != nil {
		return respondError(c, err)
	}

	state := map[string]interface{}{}
	for k, v := range cim.WorkflowState {
		state[k] = v
	}
	for k, v := range req.StatePatch {
		state[k] = v
	}
	if req.Instruction != "" {
		cim.ConversationHistory = append(cim.ConversationHistory, map[string]interface{}{
			"role": "user", "content": req.Instruction,
		})
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return respondError(c, common.Wrap(common.KindValidation, "workflow state not serializable", err))
	}

	threadID := checkpoint.CIMThreadID(cim.DealID, cimID)
	checkpointID, err := h.Checkpoints.Put(ctx, checkpoint.PutParams{
		ThreadID:     threadID,
		CheckpointID: req.CheckpointID,
		State:        stateJSON,
		Metadata: map[string]interface{}{
			"instruction": req.Instruction,
			"user_id":     scope.UserID,
		},
	})
	if err != nil {
		return respondError(c, err)
	}

	cim.WorkflowState = db.JSONMap(state)
	if err := h.Store.CIMs.UpdateCIM(ctx, scope, cim); err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"cim":           cim,
		"checkpoint_id": checkpointID,
	})
}

func (h *Handlers) ListCIMCheckpoints(c echo.Context) error {
	scope := scopeFrom(c)
	ctx := c.Request().Context()
	cimID := c.Param("cimID")

	cim, err := h.Store.CIMs.GetCIM(ctx, scope, cimID)
	if err != nil {
		return respondError(c, err)
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	checkpoints, err := h.Checkpoints.List(ctx, checkpoint.CIMThreadID(cim.DealID, cimID), "", limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"checkpoints": checkpoints})
}
