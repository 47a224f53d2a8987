package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"dealgraph.org/cache"
	"dealgraph.org/common"
	"dealgraph.org/db/repository"
	"dealgraph.org/parse"
)

// Tool tiers. Tier 1 tools are cheap and always available; tier 2 tools run
// heavier queries and are offered only when the classifier sees enough
// complexity or an escalation happened.
const (
	TierBasic    = 1
	TierAdvanced = 2
)

// toolResultPreviewTokens bounds what a tool result contributes to the
// conversation directly; the full result is isolated in the cache and the
// model works from the preview plus the reference id.
const toolResultPreviewTokens = 400

// ToolContext carries the tenant scope for a tool invocation.
type ToolContext struct {
	Scope  repository.Scope
	DealID string
	// GroupID is the graph tenancy key, "{org}:{deal}".
	GroupID string
}

// Tool is one capability the agent can invoke.
type Tool struct {
	Name        string
	Description string
	// ArgsHint documents the JSON arguments for the model prompt.
	ArgsHint string
	Tier     int
	Run      func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error)
}

// ToolResult is what the turn loop records for one invocation.
type ToolResult struct {
	Tool string `json:"tool"`
	// ResultID references the isolated full result in the cache.
	ResultID string `json:"result_id"`
	// Preview is the truncated content fed back to the model.
	Preview string `json:"preview"`
	Err     string `json:"error,omitempty"`
}

// Toolbox holds the registered tools and the isolation cache.
type Toolbox struct {
	tools map[string]*Tool
	cache *cache.Cache
}

func NewToolbox(c *cache.Cache) *Toolbox {
	return &Toolbox{tools: map[string]*Tool{}, cache: c}
}

// Register adds a tool. Duplicate names are a wiring bug.
func (tb *Toolbox) Register(t *Tool) {
	if _, exists := tb.tools[t.Name]; exists {
		panic(fmt.Sprintf("tool %q registered twice", t.Name))
	}
	tb.tools[t.Name] = t
}

// Available lists tools up to the given tier, sorted by name for a stable
// prompt.
func (tb *Toolbox) Available(maxTier int) []*Tool {
	var out []*Tool
	for _, t := range tb.tools {
		if t.Tier <= maxTier {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs a tool and isolates its result: the full output goes to the
// cache under a result id, and only a bounded preview returns to the
// conversation. This keeps one verbose tool call from flooding the context
// window for the rest of the turn.
func (tb *Toolbox) Invoke(ctx context.Context, tc ToolContext, name string, args json.RawMessage, maxTier int) ToolResult {
	t, ok := tb.tools[name]
	if !ok || t.Tier > maxTier {
		return ToolResult{Tool: name, Err: fmt.Sprintf("unknown tool %q", name)}
	}

	full, err := t.Run(ctx, tc, args)
	if err != nil {
		common.Logger.WithError(err).WithField("tool", name).Warn("tool invocation failed")
		return ToolResult{Tool: name, Err: common.Truncate(err.Error(), 300)}
	}

	resultID := uuid.NewString()
	if tb.cache != nil {
		tb.cache.Set(ctx, cache.ToolKey(resultID), []byte(full), cache.TTLTool)
	}
	return ToolResult{
		Tool:     name,
		ResultID: resultID,
		Preview:  previewOf(full),
	}
}

// FullResult retrieves an isolated tool result by id, for follow-up turns
// that need to drill into it.
func (tb *Toolbox) FullResult(ctx context.Context, resultID string) (string, bool) {
	if tb.cache == nil {
		return "", false
	}
	raw, ok := tb.cache.Get(ctx, cache.ToolKey(resultID))
	return string(raw), ok
}

// PromptBlock renders the available tools for the system prompt.
func (tb *Toolbox) PromptBlock(maxTier int) string {
	var sb strings.Builder
	for _, t := range tb.Available(maxTier) {
		fmt.Fprintf(&sb, "- %s: %s\n  args: %s\n", t.Name, t.Description, t.ArgsHint)
	}
	return sb.String()
}

func previewOf(full string) string {
	if parse.EstimateTokens(full) <= toolResultPreviewTokens {
		return full
	}
	runes := []rune(full)
	maxChars := toolResultPreviewTokens * 4
	if len(runes) > maxChars {
		runes = runes[:maxChars]
	}
	return string(runes) + "\n[truncated; full result available by result_id]"
}
