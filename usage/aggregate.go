package usage

import (
	"context"
	"time"

	"dealgraph.org/common"
)

// OrgSummary aggregates model usage for one organization over a window.
type OrgSummary struct {
	OrgID        string  `json:"org_id"`
	Calls        int64   `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Errors       int64   `json:"errors"`
	ErrorRatePct float64 `json:"error_rate_pct"`
}

// ModelSummary aggregates usage per model for cost breakdowns.
type ModelSummary struct {
	Model        string  `json:"model"`
	Calls        int64   `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// FeatureCount aggregates feature events.
type FeatureCount struct {
	Feature string `json:"feature"`
	Count   int64  `json:"count"`
}

// SummarizeByOrg returns per-org usage since the cutoff, most expensive first.
// Superadmin surface; the API layer enforces the role.
func (r *Recorder) SummarizeByOrg(ctx context.Context, since time.Time) ([]OrgSummary, error) {
	var out []OrgSummary
	err := r.gdb.WithContext(ctx).
		Table("llm_usages").
		Select(`org_id,
			count(*) AS calls,
			coalesce(sum(input_tokens), 0) AS input_tokens,
			coalesce(sum(output_tokens), 0) AS output_tokens,
			coalesce(sum(cost_usd), 0) AS cost_usd,
			count(*) FILTER (WHERE status <> 'success') AS errors`).
		Where("created_at >= ?", since).
		Group("org_id").
		Order("cost_usd DESC").
		Scan(&out).Error
	if err != nil {
		return nil, common.Wrap(common.KindTransientIO, "failed to aggregate usage", err)
	}
	for i := range out {
		if out[i].Calls > 0 {
			out[i].ErrorRatePct = float64(out[i].Errors) / float64(out[i].Calls) * 100
		}
	}
	return out, nil
}

// SummarizeByModel returns per-model usage for one org since the cutoff.
func (r *Recorder) SummarizeByModel(ctx context.Context, orgID string, since time.Time) ([]ModelSummary, error) {
	var out []ModelSummary
	err := r.gdb.WithContext(ctx).
		Table("llm_usages").
		Select(`model,
			count(*) AS calls,
			coalesce(sum(input_tokens), 0) AS input_tokens,
			coalesce(sum(output_tokens), 0) AS output_tokens,
			coalesce(sum(cost_usd), 0) AS cost_usd`).
		Where("org_id = ? AND created_at >= ?", orgID, since).
		Group("model").
		Order("cost_usd DESC").
		Scan(&out).Error
	if err != nil {
		return nil, common.Wrap(common.KindTransientIO, "failed to aggregate model usage", err)
	}
	return out, nil
}

// CountFeatures returns feature event counts for one org since the cutoff.
func (r *Recorder) CountFeatures(ctx context.Context, orgID string, since time.Time) ([]FeatureCount, error) {
	var out []FeatureCount
	err := r.gdb.WithContext(ctx).
		Table("feature_usages").
		Select("feature, count(*) AS count").
		Where("org_id = ? AND created_at >= ?", orgID, since).
		Group("feature").
		Order("count DESC").
		Scan(&out).Error
	if err != nil {
		return nil, common.Wrap(common.KindTransientIO, "failed to count feature usage", err)
	}
	return out, nil
}

// Alert describes a crossed threshold.
type Alert struct {
	Kind    string  `json:"kind"`
	Value   float64 `json:"value"`
	Limit   float64 `json:"limit"`
	Message string  `json:"message"`
}

// CheckAlerts evaluates today's platform-wide usage against the configured
// thresholds. Run periodically by the maintenance job; crossed thresholds are
// logged and returned for the admin surface.
func (r *Recorder) CheckAlerts(ctx context.Context) ([]Alert, error) {
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)

	var totals struct {
		Calls   int64
		Errors  int64
		CostUSD float64
	}
	err := r.gdb.WithContext(ctx).
		Table("llm_usages").
		Select(`count(*) AS calls,
			count(*) FILTER (WHERE status <> 'success') AS errors,
			coalesce(sum(cost_usd), 0) AS cost_usd`).
		Where("created_at >= ?", dayStart).
		Scan(&totals).Error
	if err != nil {
		return nil, common.Wrap(common.KindTransientIO, "failed to evaluate usage alerts", err)
	}

	var alerts []Alert
	if r.alerts.DailyCostUSD > 0 && totals.CostUSD > r.alerts.DailyCostUSD {
		a := Alert{
			Kind:    "daily_cost",
			Value:   totals.CostUSD,
			Limit:   r.alerts.DailyCostUSD,
			Message: "daily model spend exceeded the configured limit",
		}
		common.Logger.WithField("cost_usd", totals.CostUSD).
			WithField("limit_usd", r.alerts.DailyCostUSD).
			Warn(a.Message)
		alerts = append(alerts, a)
	}
	if r.alerts.ErrorRatePct > 0 && totals.Calls >= 20 {
		rate := float64(totals.Errors) / float64(totals.Calls) * 100
		if rate > r.alerts.ErrorRatePct {
			a := Alert{
				Kind:    "error_rate",
				Value:   rate,
				Limit:   r.alerts.ErrorRatePct,
				Message: "model call error rate exceeded the configured limit",
			}
			common.Logger.WithField("error_rate_pct", rate).
				WithField("limit_pct", r.alerts.ErrorRatePct).
				Warn(a.Message)
			alerts = append(alerts, a)
		}
	}
	return alerts, nil
}
