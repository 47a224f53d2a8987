package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"dealgraph.org/agent"
	"dealgraph.org/common"
	"dealgraph.org/db"
)

func (h *Handlers) CreateConversation(c echo.Context) error {
	scope := scopeFrom(c)
	var req struct {
		Title string `json:"title"`
	}
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	conv := &db.Conversation{
		DealID: c.Param("dealID"),
		UserID: scope.UserID,
		Title:  req.Title,
	}
	if err := h.Store.Conversations.CreateConversation(c.Request().Context(), scope, conv); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, conv)
}

func (h *Handlers) ListConversations(c echo.Context) error {
	convs, err := h.Store.Conversations.ListConversations(c.Request().Context(), scopeFrom(c), c.Param("dealID"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"conversations": convs})
}

func (h *Handlers) ListMessages(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	msgs, err := h.Store.Conversations.ListMessages(c.Request().Context(), scopeFrom(c),
		c.Param("conversationID"), limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": msgs})
}

type chatRequest struct {
	Message string `json:"message"`
}

// Chat runs one agent turn and streams progress as server-sent events.
// Closing the connection cancels the turn.
func (h *Handlers) Chat(c echo.Context) error {
	scope := scopeFrom(c)
	ctx := c.Request().Context()
	conversationID := c.Param("conversationID")

	var req chatRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	conv, err := h.Store.Conversations.GetConversation(ctx, scope, conversationID)
	if err != nil {
		return respondError(c, err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)

	sink := agent.Sink(func(event agent.Event) {
		payload, err := event.MarshalData()
		if err != nil {
			return
		}
		fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event.Type, payload)
		res.Flush()
	})

	_, err = h.Runner.Run(ctx, agent.TurnInput{
		Scope:          scope,
		DealID:         conv.DealID,
		ConversationID: conversationID,
		Query:          req.Message,
	}, sink)
	if err != nil {
		// The error event already went through the sink; log and end the
		// stream cleanly.
		common.Logger.WithError(err).WithField("conversation_id", conversationID).
			Warn("chat turn failed")
	}
	return nil
}
