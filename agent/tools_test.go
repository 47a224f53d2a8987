package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealgraph.org/cache"
)

func echoTool(name string, tier int) *Tool {
	return &Tool{
		Name:        name,
		Description: "echoes its input",
		ArgsHint:    `{"text": "..."}`,
		Tier:        tier,
		Run: func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error) {
			var a struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(args, &a); err != nil {
				return "", err
			}
			return a.Text, nil
		},
	}
}

func TestToolboxTierFiltering(t *testing.T) {
	tb := NewToolbox(nil)
	tb.Register(echoTool("basic", TierBasic))
	tb.Register(echoTool("advanced", TierAdvanced))

	basic := tb.Available(TierBasic)
	require.Len(t, basic, 1)
	assert.Equal(t, "basic", basic[0].Name)

	all := tb.Available(TierAdvanced)
	assert.Len(t, all, 2)

	// Invoking above the allowed tier is refused, not silently run.
	result := tb.Invoke(context.Background(), ToolContext{}, "advanced", json.RawMessage(`{}`), TierBasic)
	assert.NotEmpty(t, result.Err)
}

func TestToolboxIsolatesLargeResults(t *testing.T) {
	tb := NewToolbox(cache.NewWithClient(nil))
	big := strings.Repeat("finding ", 2000)
	tb.Register(&Tool{
		Name: "dump", Description: "big output", ArgsHint: "{}", Tier: TierBasic,
		Run: func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error) {
			return big, nil
		},
	})

	result := tb.Invoke(context.Background(), ToolContext{}, "dump", json.RawMessage(`{}`), TierBasic)
	require.Empty(t, result.Err)
	require.NotEmpty(t, result.ResultID)

	// Preview is bounded but the full result is retrievable by reference.
	assert.Less(t, len(result.Preview), len(big))
	assert.Contains(t, result.Preview, "[truncated")

	full, ok := tb.FullResult(context.Background(), result.ResultID)
	require.True(t, ok)
	assert.Equal(t, big, full)
}

func TestToolboxSmallResultsKeptInline(t *testing.T) {
	tb := NewToolbox(cache.NewWithClient(nil))
	tb.Register(echoTool("echo", TierBasic))

	result := tb.Invoke(context.Background(), ToolContext{}, "echo",
		json.RawMessage(`{"text": "Revenue was $12.4M"}`), TierAdvanced)
	require.Empty(t, result.Err)
	assert.Equal(t, "Revenue was $12.4M", result.Preview)
}

func TestToolboxReportsToolErrors(t *testing.T) {
	tb := NewToolbox(nil)
	tb.Register(&Tool{
		Name: "broken", Description: "always fails", ArgsHint: "{}", Tier: TierBasic,
		Run: func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error) {
			return "", errors.New("backend unavailable")
		},
	})

	result := tb.Invoke(context.Background(), ToolContext{}, "broken", json.RawMessage(`{}`), TierBasic)
	assert.Contains(t, result.Err, "backend unavailable")
	assert.Empty(t, result.ResultID)
}

func TestPromptBlockListsToolsStably(t *testing.T) {
	tb := NewToolbox(nil)
	tb.Register(echoTool("zeta", TierBasic))
	tb.Register(echoTool("alpha", TierBasic))

	block := tb.PromptBlock(TierBasic)
	assert.Less(t, strings.Index(block, "alpha"), strings.Index(block, "zeta"))
	assert.Contains(t, block, "echoes its input")
}
