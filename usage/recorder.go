// Package usage records model and feature consumption for cost accounting.
// Recording never fails the operation that triggered it; a lost usage row is
// better than a failed chat turn.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"dealgraph.org/common"
	"dealgraph.org/config"
	"dealgraph.org/db"
	"dealgraph.org/llm"
)

// Tenant carries the attribution for usage rows. Provider clients do not know
// who they are serving, so the caller stashes the tenant on the context before
// entering the embedding or chat path.
type Tenant struct {
	OrgID  string
	DealID string
	UserID string
}

type tenantKey struct{}

// WithTenant attaches attribution to the context.
func WithTenant(ctx context.Context, t Tenant) context.Context {
	return context.WithValue(ctx, tenantKey{}, t)
}

// TenantFrom reads attribution from the context; zero value when absent.
func TenantFrom(ctx context.Context) Tenant {
	t, _ := ctx.Value(tenantKey{}).(Tenant)
	return t
}

// Recorder writes usage rows and evaluates alert thresholds.
type Recorder struct {
	gdb    *gorm.DB
	alerts config.AlertsConfig
}

// NewRecorder wires the recorder onto the metadata store.
func NewRecorder(gdb *gorm.DB, alerts config.AlertsConfig) *Recorder {
	return &Recorder{gdb: gdb, alerts: alerts}
}

// LLMCall describes one completed model invocation.
type LLMCall struct {
	Provider     string
	Model        string
	Feature      string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
	Err          error
}

// RecordLLM stores one model call with its computed cost.
func (r *Recorder) RecordLLM(ctx context.Context, call LLMCall) {
	t := TenantFrom(ctx)
	inCost, outCost := llm.CostPerMTok(call.Model)
	cost := float64(call.InputTokens)/1e6*inCost + float64(call.OutputTokens)/1e6*outCost

	row := db.LLMUsage{
		ID:           uuid.NewString(),
		OrgID:        t.OrgID,
		UserID:       t.UserID,
		Provider:     call.Provider,
		Model:        call.Model,
		Feature:      call.Feature,
		InputTokens:  call.InputTokens,
		OutputTokens: call.OutputTokens,
		CostUSD:      cost,
		LatencyMS:    call.Latency.Milliseconds(),
		Status:       statusOf(call.Err),
		CreatedAt:    time.Now().UTC(),
	}
	if t.DealID != "" {
		row.DealID = &t.DealID
	}
	if call.Err != nil {
		row.ErrorMessage = common.Truncate(call.Err.Error(), 500)
	}
	if err := r.gdb.WithContext(ctx).Create(&row).Error; err != nil {
		common.Logger.WithError(err).Warn("failed to record llm usage")
	}
}

// RecordEmbedding satisfies the embedding client's usage hook.
func (r *Recorder) RecordEmbedding(ctx context.Context, provider string, inputs, estTokens int, latency time.Duration, callErr error) {
	t := TenantFrom(ctx)
	inCost, _ := llm.CostPerMTok("gemini-embedding-001")
	cost := float64(estTokens) / 1e6 * inCost

	row := db.LLMUsage{
		ID:          uuid.NewString(),
		OrgID:       t.OrgID,
		UserID:      t.UserID,
		Provider:    provider,
		Model:       "gemini-embedding-001",
		Feature:     "embedding",
		InputTokens: estTokens,
		CostUSD:     cost,
		LatencyMS:   latency.Milliseconds(),
		Status:      statusOf(callErr),
		CreatedAt:   time.Now().UTC(),
		Metadata:    db.JSONMap{"inputs": inputs},
	}
	if t.DealID != "" {
		row.DealID = &t.DealID
	}
	if callErr != nil {
		row.ErrorMessage = common.Truncate(callErr.Error(), 500)
	}
	if err := r.gdb.WithContext(ctx).Create(&row).Error; err != nil {
		common.Logger.WithError(err).Warn("failed to record embedding usage")
	}
}

// RecordFeature stores a high-level feature event (upload, chat turn, search).
func (r *Recorder) RecordFeature(ctx context.Context, feature string, metadata map[string]interface{}) {
	t := TenantFrom(ctx)
	row := db.FeatureUsage{
		ID:        uuid.NewString(),
		OrgID:     t.OrgID,
		UserID:    t.UserID,
		Feature:   feature,
		Metadata:  db.JSONMap(metadata),
		CreatedAt: time.Now().UTC(),
	}
	if t.DealID != "" {
		row.DealID = &t.DealID
	}
	if err := r.gdb.WithContext(ctx).Create(&row).Error; err != nil {
		common.Logger.WithError(err).Warn("failed to record feature usage")
	}
}

func statusOf(err error) string {
	if err == nil {
		return "success"
	}
	if common.KindOf(err) == common.KindTimeout {
		return "timeout"
	}
	return "error"
}
