// Package advisory turns an analysis result into a short farmer-facing
// advisory, optionally rewritten by a language model.
package advisory

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/lox/cropwatch/internal/models"
)

const (
	SourceDeterministic = "deterministic"
	SourceLLM           = "openai"
)

type Advisory struct {
	FieldID string `json:"fieldId"`
	Text    string `json:"text"`
	Summary string `json:"summary"`
	Source  string `json:"source"`
}

// Rewriter turns the deterministic summary into prose.
type Rewriter interface {
	Rewrite(ctx context.Context, prompt string) (string, error)
}

type Advisor struct {
	rewriter Rewriter
	cache    *Cache
}

// NewAdvisor returns an advisor. Both rewriter and cache may be nil.
func NewAdvisor(rewriter Rewriter, cache *Cache) *Advisor {
	return &Advisor{rewriter: rewriter, cache: cache}
}

// Advise builds the advisory for a result. key identifies the result for
// caching rewritten text; an empty key disables the cache. Rewrite failures
// fall back to the deterministic summary.
func (a *Advisor) Advise(ctx context.Context, field models.Field, key string, r *models.TimeSeriesResult) Advisory {
	summary := Summarize(field, r)
	adv := Advisory{FieldID: r.FieldID, Text: summary, Summary: summary, Source: SourceDeterministic}
	if a.rewriter == nil || len(r.Series) == 0 {
		return adv
	}

	if a.cache != nil && key != "" {
		if text, ok := a.cache.Get(key); ok {
			adv.Text, adv.Source = text, SourceLLM
			return adv
		}
	}

	text, err := a.rewriter.Rewrite(ctx, BuildPrompt(field, r, summary))
	if err != nil {
		log.Printf("advisory: rewrite for %s failed, using summary: %v", r.FieldID, err)
		return adv
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return adv
	}
	adv.Text, adv.Source = text, SourceLLM

	if a.cache != nil && key != "" {
		if err := a.cache.Set(key, text); err != nil {
			log.Printf("advisory: cache %s: %v", key, err)
		}
	}
	return adv
}

// Summarize is a deterministic plain-text summary of the result.
func Summarize(field models.Field, r *models.TimeSeriesResult) string {
	name := field.Name
	if name == "" {
		name = r.FieldID
	}
	latest := r.Latest()
	if latest == nil {
		return fmt.Sprintf("No satellite observations are available for %s between %s and %s.",
			name, r.Period.Start.Format("2 Jan 2006"), r.Period.End.Format("2 Jan 2006"))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d observations to %s): vegetation index %.2f, trend %s",
		name, len(r.Series), latest.Date.Format("2 Jan 2006"), latest.NDVI, r.Trends.OverallTrend)
	if r.Trends.OverallTrend != models.TrendStable {
		fmt.Fprintf(&b, " (last change %+.3f)", r.Trends.GrowthRate)
	}
	fmt.Fprintf(&b, ". Growth stage: %s. Water stress: %s (average index %.2f).",
		r.GrowthStage, r.WaterStress.StressLevel, r.WaterStress.AverageStress)

	yp := r.YieldPrediction
	fmt.Fprintf(&b, " Estimated yield %.0f %s at %.0f%% confidence.", yp.PredictedYield, yp.Unit, yp.Confidence*100)

	switch n := len(r.Hotspots); n {
	case 0:
	case 1:
		h := r.Hotspots[0]
		fmt.Fprintf(&b, " One %s hotspot, severity %.2f, about %d m2.", h.Type, h.Severity, h.AreaM2)
	default:
		fmt.Fprintf(&b, " %d hotspots detected.", n)
	}

	if len(r.Recommendations) > 0 {
		b.WriteString(" Actions: ")
		b.WriteString(strings.Join(r.Recommendations, "; "))
		b.WriteString(".")
	}
	return b.String()
}

// BuildPrompt is the user message sent to the rewriter.
func BuildPrompt(field models.Field, r *models.TimeSeriesResult, summary string) string {
	var b strings.Builder
	b.WriteString("Rewrite this satellite crop monitoring summary as a short advisory for the farmer. ")
	b.WriteString("Keep every number and every recommended action. No more than 120 words, no headings.\n\n")
	if field.Crop != "" {
		fmt.Fprintf(&b, "Crop: %s\n", field.Crop)
	}
	if field.AreaHa.Valid {
		fmt.Fprintf(&b, "Area: %.1f ha\n", field.AreaHa.Float64)
	}
	fmt.Fprintf(&b, "Period: %s to %s\n", r.Period.Start.Format("2006-01-02"), r.Period.End.Format("2006-01-02"))
	fmt.Fprintf(&b, "Summary: %s\n", summary)
	return b.String()
}
