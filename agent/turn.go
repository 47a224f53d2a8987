package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dealgraph.org/cache"
	"dealgraph.org/common"
	"dealgraph.org/db"
	"dealgraph.org/db/repository"
	"dealgraph.org/llm"
	"dealgraph.org/retrieval"
	"dealgraph.org/usage"
)

// maxToolIterations bounds the tool loop per turn. A model that cannot reach
// an answer in this many steps gets forced to conclude.
const maxToolIterations = 6

// preRetrieveLimit is how many passages the pre-model retrieval pass fetches
// for factual and analytical turns.
const preRetrieveLimit = 6

// summarizeAfterMessages is the history length beyond which older turns are
// collapsed into a cached summary.
const summarizeAfterMessages = 20

// tokenChunkSize is how much answer text goes into each streamed token event.
const tokenChunkSize = 24

// Searcher retrieves grounded deal room context for a query. Satisfied by
// *retrieval.Retriever.
type Searcher interface {
	Retrieve(ctx context.Context, groupID, query string, limit int) (*retrieval.Result, error)
}

// Runner executes chat turns.
type Runner struct {
	store      *repository.Store
	classifier *Classifier
	toolbox    *Toolbox
	provider   llm.Provider
	retriever  Searcher
	cache      *cache.Cache
	recorder   *usage.Recorder
}

// NewRunner wires the turn executor. retriever may be nil to disable the
// pre-model retrieval pass; recorder may be nil to disable usage rows.
func NewRunner(store *repository.Store, classifier *Classifier, toolbox *Toolbox,
	provider llm.Provider, retriever Searcher, c *cache.Cache, recorder *usage.Recorder) *Runner {
	return &Runner{
		store: store, classifier: classifier, toolbox: toolbox,
		provider: provider, retriever: retriever, cache: c, recorder: recorder,
	}
}

// TurnInput is one user message in a conversation.
type TurnInput struct {
	Scope          repository.Scope
	DealID         string
	ConversationID string
	Query          string
}

// TurnOutput is the completed turn.
type TurnOutput struct {
	Answer    string       `json:"answer"`
	Sources   []string     `json:"sources,omitempty"`
	ToolCalls []ToolResult `json:"tool_calls,omitempty"`
	Intent    string       `json:"intent"`
	Model     string       `json:"model"`
	Escalated bool         `json:"escalated,omitempty"`
}

type modelAction struct {
	Action  string          `json:"action"`
	Tool    string          `json:"tool"`
	Args    json.RawMessage `json:"args"`
	Answer  string          `json:"answer"`
	Sources []string        `json:"sources"`
	Reason  string          `json:"reason"`
}

// Run executes one chat turn, streaming progress to the sink. Cancelling the
// context stops the turn between steps; the user message is persisted either
// way so the conversation stays coherent.
func (r *Runner) Run(ctx context.Context, in TurnInput, sink Sink) (*TurnOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, common.E(common.KindValidation, "message is empty")
	}
	groupID := common.GroupID(in.Scope.OrgID, in.DealID)
	ctx = usage.WithTenant(ctx, usage.Tenant{OrgID: in.Scope.OrgID, DealID: in.DealID, UserID: in.Scope.UserID})

	if err := r.store.Conversations.AppendMessage(ctx, in.Scope, &db.Message{
		ConversationID: in.ConversationID,
		Role:           "user",
		Content:        in.Query,
	}); err != nil {
		return nil, err
	}

	sink.emit(EventStatus, "classifying")
	cls := r.classifier.Classify(ctx, groupID, in.Query)

	history, err := r.buildHistory(ctx, in)
	if err != nil {
		return nil, err
	}

	grounded := r.retrieveContext(ctx, groupID, cls, in.Query, sink)

	out, err := r.runWithSpecialist(ctx, in, groupID, cls, history, grounded, false, sink)
	if err != nil && common.KindOf(err) == common.KindDegradedKnowledge && !out.Escalated {
		// Escalation request from the specialist: heavier model, full toolbox.
		sink.emit(EventStatus, "escalating")
		out, err = r.runWithSpecialist(ctx, in, groupID, cls, history, grounded, true, sink)
	}
	if err != nil {
		sink.emit(EventError, common.Truncate(err.Error(), 300))
		return nil, err
	}

	msg := &db.Message{
		ConversationID: in.ConversationID,
		Role:           "assistant",
		Content:        out.Answer,
	}
	for _, s := range out.Sources {
		msg.Sources = append(msg.Sources, map[string]interface{}{"citation": s})
	}
	for _, tc := range out.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, map[string]interface{}{
			"tool": tc.Tool, "result_id": tc.ResultID,
		})
	}
	if err := r.store.Conversations.AppendMessage(ctx, in.Scope, msg); err != nil {
		common.Logger.WithError(err).Warn("failed to persist assistant message")
	}

	if r.recorder != nil {
		r.recorder.RecordFeature(ctx, "chat_turn", map[string]interface{}{
			"intent": out.Intent, "model": out.Model, "tool_calls": len(out.ToolCalls),
		})
	}

	sink.emit(EventDone, out)
	return out, nil
}

// retrieveContext runs the pre-model retrieval pass for factual and
// analytical intents, so the specialist starts grounded instead of having to
// burn a tool iteration on the obvious search. Failures degrade to an
// ungrounded turn; the tools are still there.
func (r *Runner) retrieveContext(ctx context.Context, groupID string, cls Classification, query string, sink Sink) string {
	if r.retriever == nil || !retrievalIntent(cls.Intent) {
		return ""
	}
	sink.emit(EventStatus, "retrieving")
	res, err := r.retriever.Retrieve(ctx, groupID, query, preRetrieveLimit)
	if err != nil {
		common.Logger.WithError(err).Debug("pre-model retrieval degraded, continuing without context")
		return ""
	}
	return res.Context
}

// retrievalIntent reports whether a turn of this intent answers from deal
// room material and should be grounded before the model call.
func retrievalIntent(intent string) bool {
	switch intent {
	case IntentLookup, IntentFinancial, IntentGraph:
		return true
	}
	return false
}

func (r *Runner) runWithSpecialist(ctx context.Context, in TurnInput, groupID string,
	cls Classification, history []llm.Message, grounded string, escalated bool, sink Sink) (*TurnOutput, error) {

	spec := specialistFor(cls.Intent)
	model := llm.RouteModel(cls.Complexity, escalated)
	maxTier := spec.MaxTier
	if escalated {
		maxTier = TierAdvanced
	}

	system := spec.System
	if grounded != "" {
		system += "\n\nDeal room material retrieved for this question:\n" + grounded +
			"\nGround the answer in this material and cite its numbered sources; search again only if it is insufficient."
	}
	if cls.NeedsTools {
		system += answerProtocol + r.toolbox.PromptBlock(maxTier)
	} else {
		system += "\nRespond with JSON only: {\"action\": \"final\", \"answer\": \"...\"}"
	}

	tc := ToolContext{Scope: in.Scope, DealID: in.DealID, GroupID: groupID}
	messages := append([]llm.Message{}, history...)
	messages = append(messages, llm.Message{Role: "user", Content: in.Query})

	out := &TurnOutput{Intent: cls.Intent, Model: model, Escalated: escalated}

	for iteration := 0; iteration < maxToolIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return out, common.Wrap(common.KindTimeout, "turn cancelled", err)
		}

		if iteration == maxToolIterations-1 {
			messages = append(messages, llm.Message{
				Role:    "user",
				Content: "Tool budget exhausted. Answer now with what you have.",
			})
		}

		start := time.Now()
		resp, err := r.provider.Generate(ctx, llm.Request{
			Model:    model,
			System:   system,
			Messages: messages,
			JSONMode: true,
		})
		if r.recorder != nil {
			call := usage.LLMCall{Provider: r.provider.Name(), Model: model, Feature: "chat",
				Latency: time.Since(start), Err: err}
			if resp != nil {
				call.InputTokens = resp.InputTokens
				call.OutputTokens = resp.OutputTokens
			}
			r.recorder.RecordLLM(ctx, call)
		}
		if err != nil {
			return out, err
		}

		var action modelAction
		if derr := llm.DecodeJSON(resp.Text, &action); derr != nil {
			// Treat unparseable output as the final answer rather than
			// failing the whole turn.
			action = modelAction{Action: "final", Answer: resp.Text}
		}

		switch action.Action {
		case "tool":
			sink.emit(EventToolCall, map[string]string{"tool": action.Tool})
			result := r.toolbox.Invoke(ctx, tc, action.Tool, action.Args, maxTier)
			out.ToolCalls = append(out.ToolCalls, result)
			sink.emit(EventToolResult, result)

			feedback := result.Preview
			if result.Err != "" {
				feedback = "tool error: " + result.Err
			}
			messages = append(messages,
				llm.Message{Role: "assistant", Content: resp.Text},
				llm.Message{Role: "user", Content: fmt.Sprintf("Result of %s (result_id %s):\n%s",
					action.Tool, result.ResultID, feedback)})

		case "escalate":
			if escalated {
				// Already at the top tier; force a final answer.
				messages = append(messages, llm.Message{
					Role: "user", Content: "No further escalation available. Answer with what you have.",
				})
				continue
			}
			return out, common.E(common.KindDegradedKnowledge, "specialist requested escalation: "+action.Reason)

		default: // final
			out.Answer = action.Answer
			out.Sources = action.Sources
			streamAnswer(sink, out.Answer)
			if len(out.Sources) > 0 {
				sink.emit(EventSources, out.Sources)
			}
			return out, nil
		}
	}

	return out, common.E(common.KindProviderContract, "model never produced a final answer")
}

// buildHistory loads recent messages, collapsing long conversations into a
// cached summary plus the recent tail.
func (r *Runner) buildHistory(ctx context.Context, in TurnInput) ([]llm.Message, error) {
	msgs, err := r.store.Conversations.ListMessages(ctx, in.Scope, in.ConversationID, summarizeAfterMessages*2)
	if err != nil {
		return nil, err
	}
	// The user message for this turn was already persisted; drop it from
	// history so it is not duplicated.
	if n := len(msgs); n > 0 && msgs[n-1].Role == "user" && msgs[n-1].Content == in.Query {
		msgs = msgs[:n-1]
	}

	if len(msgs) <= summarizeAfterMessages {
		return toLLMMessages(msgs), nil
	}

	cutoff := len(msgs) - summarizeAfterMessages/2
	older, recent := msgs[:cutoff], msgs[cutoff:]

	summary := r.summarize(ctx, in.ConversationID, older)
	history := []llm.Message{}
	if summary != "" {
		history = append(history, llm.Message{
			Role:    "user",
			Content: "Summary of the conversation so far:\n" + summary,
		})
	}
	return append(history, toLLMMessages(recent)...), nil
}

// summarize collapses older turns. The summary is cached per conversation and
// recomputed only when the history has grown past what the cache covers.
func (r *Runner) summarize(ctx context.Context, conversationID string, older []db.Message) string {
	key := cache.SummaryKey(conversationID)
	type cachedSummary struct {
		Covered int    `json:"covered"`
		Text    string `json:"text"`
	}
	if r.cache != nil {
		if raw, ok := r.cache.Get(ctx, key); ok {
			var cs cachedSummary
			if err := json.Unmarshal(raw, &cs); err == nil && cs.Covered >= len(older) {
				return cs.Text
			}
		}
	}

	var sb strings.Builder
	for _, m := range older {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, common.Truncate(m.Content, 500))
	}
	resp, err := r.provider.Generate(ctx, llm.Request{
		Model:  llm.ModelSummarizer,
		System: "Summarize this due-diligence conversation in under 200 words. Keep figures, entities, and open questions.",
		Messages: []llm.Message{
			{Role: "user", Content: sb.String()},
		},
	})
	if err != nil {
		common.Logger.WithError(err).Debug("history summarization degraded, dropping older turns")
		return ""
	}

	if r.cache != nil {
		if raw, err := json.Marshal(cachedSummary{Covered: len(older), Text: resp.Text}); err == nil {
			r.cache.Set(ctx, key, raw, cache.TTLSummary)
		}
	}
	return resp.Text
}

func toLLMMessages(msgs []db.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := m.Role
		if role != "user" && role != "assistant" {
			continue
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

func streamAnswer(sink Sink, answer string) {
	runes := []rune(answer)
	for start := 0; start < len(runes); start += tokenChunkSize {
		end := start + tokenChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		sink.emit(EventToken, string(runes[start:end]))
	}
}
