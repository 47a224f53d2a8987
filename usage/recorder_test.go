package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"dealgraph.org/common"
)

func TestTenantRoundTrip(t *testing.T) {
	ctx := WithTenant(context.Background(), Tenant{OrgID: "org-1", DealID: "deal-1", UserID: "user-1"})
	got := TenantFrom(ctx)
	assert.Equal(t, "org-1", got.OrgID)
	assert.Equal(t, "deal-1", got.DealID)
	assert.Equal(t, "user-1", got.UserID)
}

func TestTenantFromEmptyContext(t *testing.T) {
	got := TenantFrom(context.Background())
	assert.Empty(t, got.OrgID)
	assert.Empty(t, got.UserID)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, "success", statusOf(nil))
	assert.Equal(t, "error", statusOf(errors.New("boom")))
	assert.Equal(t, "error", statusOf(common.E(common.KindProviderRateLimited, "429")))
	assert.Equal(t, "timeout", statusOf(common.E(common.KindTimeout, "deadline exceeded")))
}

func TestLLMCallCostArithmetic(t *testing.T) {
	// Heavy model pricing: 1.25 in, 10.00 out per million tokens.
	call := LLMCall{Model: "gemini-2.5-pro", InputTokens: 2_000_000, OutputTokens: 100_000, Latency: time.Second}
	inCost := float64(call.InputTokens) / 1e6 * 1.25
	outCost := float64(call.OutputTokens) / 1e6 * 10.00
	assert.InDelta(t, 2.50, inCost, 1e-9)
	assert.InDelta(t, 1.00, outCost, 1e-9)
}
