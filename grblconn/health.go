package grblconn

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// ErrorPattern is one aggregated failure bucket. Failure texts are normalized
// before bucketing so that variants of the same fault share a bucket.
type ErrorPattern struct {
	// ErrorType is the normalized failure text.
	ErrorType string
	// Frequency is the number of occurrences recorded for this bucket.
	Frequency int
	// SeverityScore grows with each occurrence and saturates at 1.0.
	SeverityScore float64
}

// HealthMetrics holds the three health ratios, each in [0, 1]. A fresh
// predictor starts at 1.0 everywhere.
type HealthMetrics struct {
	ConnectionStability float64
	CommandSuccessRate  float64
	UptimePercentage    float64
}

// HealthPredictor aggregates failure patterns and maintains coarse health
// ratios. Pattern buckets live in a concurrent map; the ratio triple sits
// behind its own mutex. All methods are safe for concurrent use.
type HealthPredictor struct {
	cfg      *ConnectionConfig
	patterns *xsync.MapOf[string, ErrorPattern]

	mu      sync.Mutex
	metrics HealthMetrics
}

// NewHealthPredictor creates a predictor with all ratios at 1.0 and no
// recorded patterns.
func NewHealthPredictor(cfg *ConnectionConfig) *HealthPredictor {
	return &HealthPredictor{
		cfg:      cfg,
		patterns: xsync.NewMapOf[string, ErrorPattern](),
		metrics: HealthMetrics{
			ConnectionStability: 1.0,
			CommandSuccessRate:  1.0,
			UptimePercentage:    1.0,
		},
	}
}

// normalizeErrorText lowercases, trims and replaces digit runs with '#' so
// that "error:5" and "error:9" share a bucket.
func normalizeErrorText(text string) string {
	var sb strings.Builder
	inDigits := false
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		if r >= '0' && r <= '9' {
			if !inDigits {
				sb.WriteByte('#')
				inDigits = true
			}
			continue
		}
		inDigits = false
		sb.WriteRune(r)
	}

	return sb.String()
}

// UpdateErrorPattern records one occurrence of the failure text: the bucket's
// frequency increments and its severity score rises by 0.1, saturating at
// 1.0. When the configured bucket limit is reached, occurrences of new
// patterns are dropped rather than evicting existing buckets.
func (p *HealthPredictor) UpdateErrorPattern(errText string) {
	key := normalizeErrorText(errText)
	if key == "" {
		return
	}

	if _, ok := p.patterns.Load(key); !ok && p.patterns.Size() >= p.cfg.MaxErrorPatterns() {
		return
	}

	p.patterns.Compute(key, func(old ErrorPattern, loaded bool) (ErrorPattern, bool) {
		if !loaded {
			return ErrorPattern{ErrorType: key, Frequency: 1, SeverityScore: 0.1}, false
		}

		old.Frequency++
		old.SeverityScore = min(1.0, old.SeverityScore+0.1)

		return old, false
	})
}

// recordFailure degrades the health ratios for the failure class. Ratios are
// clamped to [0, 1].
func (p *HealthPredictor) recordFailure(class errorClass) {
	degrade, _ := p.cfg.healthSteps()

	p.mu.Lock()
	defer p.mu.Unlock()

	switch class {
	case classConnection:
		p.metrics.ConnectionStability = clamp01(p.metrics.ConnectionStability - degrade)
		p.metrics.UptimePercentage = clamp01(p.metrics.UptimePercentage - degrade/2)
	case classCommand:
		p.metrics.CommandSuccessRate = clamp01(p.metrics.CommandSuccessRate - degrade)
	default:
		p.metrics.ConnectionStability = clamp01(p.metrics.ConnectionStability - degrade)
		p.metrics.CommandSuccessRate = clamp01(p.metrics.CommandSuccessRate - degrade)
		p.metrics.UptimePercentage = clamp01(p.metrics.UptimePercentage - degrade)
	}
}

// RecordSuccess nudges all ratios upward by the configured recovery step,
// clamped to 1.0. Called on successful polls and acknowledged commands.
func (p *HealthPredictor) RecordSuccess() {
	_, recovery := p.cfg.healthSteps()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.ConnectionStability = clamp01(p.metrics.ConnectionStability + recovery)
	p.metrics.CommandSuccessRate = clamp01(p.metrics.CommandSuccessRate + recovery)
	p.metrics.UptimePercentage = clamp01(p.metrics.UptimePercentage + recovery)
}

// Metrics returns a copy of the current health ratios.
func (p *HealthPredictor) Metrics() HealthMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.metrics
}

// Patterns returns the recorded buckets sorted by descending frequency.
func (p *HealthPredictor) Patterns() []ErrorPattern {
	var out []ErrorPattern
	p.patterns.Range(func(_ string, pattern ErrorPattern) bool {
		out = append(out, pattern)
		return true
	})

	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].ErrorType < out[j].ErrorType
	})

	return out
}

// PredictPotentialIssues returns human-readable warnings when accumulated
// failure frequencies cross the configured thresholds or a health ratio has
// fallen below half. An empty slice means nothing noteworthy.
func (p *HealthPredictor) PredictPotentialIssues() []string {
	connThreshold, cmdThreshold := p.cfg.healthThresholds()

	connCount := 0
	cmdCount := 0
	p.patterns.Range(func(key string, pattern ErrorPattern) bool {
		switch classifyErrorText(key) {
		case classConnection:
			connCount += pattern.Frequency
		case classCommand:
			cmdCount += pattern.Frequency
		}
		return true
	})

	var issues []string
	if connCount >= connThreshold {
		issues = append(issues, fmt.Sprintf(
			"connection instability: %d connection errors recorded, check cable and port", connCount))
	}
	if cmdCount >= cmdThreshold {
		issues = append(issues, fmt.Sprintf(
			"command failures: %d command errors recorded, check G-code and controller settings", cmdCount))
	}

	metrics := p.Metrics()
	if metrics.ConnectionStability < 0.5 {
		issues = append(issues, fmt.Sprintf(
			"connection stability degraded to %.0f%%", metrics.ConnectionStability*100))
	}
	if metrics.CommandSuccessRate < 0.5 {
		issues = append(issues, fmt.Sprintf(
			"command success rate degraded to %.0f%%", metrics.CommandSuccessRate*100))
	}

	return issues
}

// Reset drops all recorded patterns and restores the ratios to 1.0.
func (p *HealthPredictor) Reset() {
	p.patterns.Clear()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics = HealthMetrics{
		ConnectionStability: 1.0,
		CommandSuccessRate:  1.0,
		UptimePercentage:    1.0,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}

	return v
}
