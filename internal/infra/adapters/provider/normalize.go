package provider

import (
	"encoding/json"
	"math"
	"strings"

	"ai-video-studio/internal/domain/model"
)

// normalizeStatus maps the provider vocabulary onto job statuses.
// ok is false for strings we do not recognise.
func normalizeStatus(s string) (model.JobStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "pending", "submitted", "waiting":
		return model.JobStatusPending, true
	case "processing", "running", "in_progress", "generating", "started":
		return model.JobStatusRunning, true
	case "succeeded", "success", "completed", "complete", "done":
		return model.JobStatusSucceeded, true
	case "failed", "error", "cancelled", "canceled", "rejected":
		return model.JobStatusFailed, true
	}
	return "", false
}

// normalizeProgress accepts both fractions (0..1] and percentages (0..100].
// 1 is ambiguous on the wire: "1.0" is a whole fraction, "1" is one percent.
func normalizeProgress(n json.Number) int {
	p, err := n.Float64()
	if err != nil || math.IsNaN(p) || p <= 0 {
		return 0
	}
	if p < 1 || (p == 1 && strings.ContainsAny(n.String(), ".eE")) {
		p *= 100
	}
	if p > 100 {
		return 100
	}
	return int(math.Round(p))
}
