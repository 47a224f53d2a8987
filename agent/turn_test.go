package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealgraph.org/db"
	"dealgraph.org/db/repository"
	"dealgraph.org/llm"
	"dealgraph.org/retrieval"
)

type fakeConversations struct {
	messages []db.Message
}

func (f *fakeConversations) CreateConversation(ctx context.Context, scope repository.Scope, conv *db.Conversation) error {
	return nil
}

func (f *fakeConversations) GetConversation(ctx context.Context, scope repository.Scope, convID string) (*db.Conversation, error) {
	return &db.Conversation{ID: convID}, nil
}

func (f *fakeConversations) ListConversations(ctx context.Context, scope repository.Scope, dealID string) ([]db.Conversation, error) {
	return nil, nil
}

func (f *fakeConversations) AppendMessage(ctx context.Context, scope repository.Scope, msg *db.Message) error {
	f.messages = append(f.messages, *msg)
	return nil
}

func (f *fakeConversations) ListMessages(ctx context.Context, scope repository.Scope, convID string, limit int) ([]db.Message, error) {
	return append([]db.Message{}, f.messages...), nil
}

// sequenceProvider returns scripted responses in order and records the
// requests it saw.
type sequenceProvider struct {
	responses []string
	requests  []llm.Request
	calls     int
}

func (s *sequenceProvider) Name() string { return "sequence" }

func (s *sequenceProvider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.requests = append(s.requests, req)
	if s.calls >= len(s.responses) {
		return &llm.Response{Text: `{"action": "final", "answer": "out of script"}`}, nil
	}
	resp := s.responses[s.calls]
	s.calls++
	return &llm.Response{Text: resp, Model: req.Model}, nil
}

// fakeSearcher scripts the pre-model retrieval pass.
type fakeSearcher struct {
	queries []string
	result  *retrieval.Result
	err     error
}

func (f *fakeSearcher) Retrieve(ctx context.Context, groupID, query string, limit int) (*retrieval.Result, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestRunner(provider llm.Provider, convs *fakeConversations) *Runner {
	store := &repository.Store{Conversations: convs}
	toolbox := NewToolbox(nil)
	toolbox.Register(&Tool{
		Name: "search_deal_room", Description: "search", ArgsHint: `{"query": "..."}`, Tier: TierBasic,
		Run: func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error) {
			return "[1] Revenue was $12.4M in FY2023.\nSource: cim.pdf (page 12)", nil
		},
	})
	classifier := NewClassifier(provider, nil)
	return NewRunner(store, classifier, toolbox, provider, nil, nil, nil)
}

func TestRunToolLoopThenFinal(t *testing.T) {
	provider := &sequenceProvider{responses: []string{
		`{"action": "tool", "tool": "search_deal_room", "args": {"query": "revenue fy2023"}}`,
		`{"action": "final", "answer": "Revenue was $12.4M in FY2023.", "sources": ["cim.pdf (page 12)"]}`,
	}}
	convs := &fakeConversations{}
	runner := newTestRunner(provider, convs)

	var events []Event
	out, err := runner.Run(context.Background(), TurnInput{
		Scope:          repository.Scope{OrgID: "org-1", UserID: "user-1"},
		DealID:         "deal-1",
		ConversationID: "conv-1",
		Query:          "What was revenue in FY2023?",
	}, func(e Event) { events = append(events, e) })

	require.NoError(t, err)
	assert.Equal(t, "Revenue was $12.4M in FY2023.", out.Answer)
	assert.Equal(t, []string{"cim.pdf (page 12)"}, out.Sources)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "search_deal_room", out.ToolCalls[0].Tool)

	// User and assistant messages were both persisted.
	require.Len(t, convs.messages, 2)
	assert.Equal(t, "user", convs.messages[0].Role)
	assert.Equal(t, "assistant", convs.messages[1].Role)

	types := map[string]bool{}
	for _, e := range events {
		types[e.Type] = true
	}
	assert.True(t, types[EventToolCall])
	assert.True(t, types[EventToolResult])
	assert.True(t, types[EventToken])
	assert.True(t, types[EventSources])
	assert.True(t, types[EventDone])
}

func TestRunTreatsPlainTextAsFinalAnswer(t *testing.T) {
	provider := &sequenceProvider{responses: []string{
		"EBITDA margin held at 23% across the period.",
	}}
	runner := newTestRunner(provider, &fakeConversations{})

	out, err := runner.Run(context.Background(), TurnInput{
		Scope: repository.Scope{OrgID: "org-1"}, DealID: "deal-1",
		ConversationID: "conv-1", Query: "How did the ebitda margin develop?",
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, out.Answer, "EBITDA margin")
}

func TestRunEscalationRerunsWithHeavyModel(t *testing.T) {
	provider := &sequenceProvider{responses: []string{
		`{"action": "escalate", "reason": "needs multi-document reconciliation"}`,
		`{"action": "final", "answer": "Reconciled: the CIM and the model agree at $12.4M."}`,
	}}
	runner := newTestRunner(provider, &fakeConversations{})

	out, err := runner.Run(context.Background(), TurnInput{
		Scope: repository.Scope{OrgID: "org-1"}, DealID: "deal-1",
		ConversationID: "conv-1", Query: "Reconcile revenue between the CIM and the model",
	}, nil)
	require.NoError(t, err)
	assert.True(t, out.Escalated)
	assert.Contains(t, out.Answer, "Reconciled")
}

func TestRunInjectsRetrievedContext(t *testing.T) {
	provider := &sequenceProvider{responses: []string{
		`{"action": "final", "answer": "Revenue was $12.4M in FY2023.", "sources": ["cim.pdf (page 12)"]}`,
	}}
	searcher := &fakeSearcher{result: &retrieval.Result{
		Passages: []retrieval.Passage{{Body: "Revenue was $12.4M in FY2023.", Citation: "cim.pdf (page 12)"}},
		Context:  "[1] Revenue was $12.4M in FY2023.\nSource: cim.pdf (page 12)",
	}}
	store := &repository.Store{Conversations: &fakeConversations{}}
	runner := NewRunner(store, NewClassifier(provider, nil), NewToolbox(nil), provider, searcher, nil, nil)

	out, err := runner.Run(context.Background(), TurnInput{
		Scope: repository.Scope{OrgID: "org-1"}, DealID: "deal-1",
		ConversationID: "conv-1", Query: "What was revenue in FY2023?",
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, out.Answer, "$12.4M")

	require.Equal(t, []string{"What was revenue in FY2023?"}, searcher.queries)
	require.NotEmpty(t, provider.requests)
	assert.Contains(t, provider.requests[0].System, "[1] Revenue was $12.4M in FY2023.",
		"retrieved material must reach the model before it answers")
}

func TestRunRetrievalFailureDegradesSilently(t *testing.T) {
	provider := &sequenceProvider{responses: []string{
		`{"action": "final", "answer": "No grounded material available."}`,
	}}
	searcher := &fakeSearcher{err: context.DeadlineExceeded}
	store := &repository.Store{Conversations: &fakeConversations{}}
	runner := NewRunner(store, NewClassifier(provider, nil), NewToolbox(nil), provider, searcher, nil, nil)

	out, err := runner.Run(context.Background(), TurnInput{
		Scope: repository.Scope{OrgID: "org-1"}, DealID: "deal-1",
		ConversationID: "conv-1", Query: "What was revenue in FY2023?",
	}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Answer)
	require.NotEmpty(t, provider.requests)
	assert.NotContains(t, provider.requests[0].System, "Deal room material")
}

func TestRetrievalIntent(t *testing.T) {
	assert.True(t, retrievalIntent(IntentLookup))
	assert.True(t, retrievalIntent(IntentFinancial))
	assert.True(t, retrievalIntent(IntentGraph))
	assert.False(t, retrievalIntent(IntentDrafting))
	assert.False(t, retrievalIntent(IntentGeneral))
}

func TestRunRejectsEmptyMessage(t *testing.T) {
	runner := newTestRunner(&sequenceProvider{}, &fakeConversations{})
	_, err := runner.Run(context.Background(), TurnInput{
		Scope: repository.Scope{OrgID: "org-1"}, DealID: "deal-1",
		ConversationID: "conv-1", Query: "   ",
	}, nil)
	require.Error(t, err)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := newTestRunner(&sequenceProvider{}, &fakeConversations{})
	_, err := runner.Run(ctx, TurnInput{
		Scope: repository.Scope{OrgID: "org-1"}, DealID: "deal-1",
		ConversationID: "conv-1", Query: "What was revenue in FY2023?",
	}, nil)
	require.Error(t, err)
}
