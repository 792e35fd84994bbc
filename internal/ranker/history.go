package ranker

import (
	"math"
	"time"

	"git.home.luguber.info/inful/fixbot/internal/classify"
)

// decayRate is the per-day exponential decay applied to prior fixes.
const decayRate = 0.01

// FixRecord is one prior successful fix touching a file.
type FixRecord struct {
	Path    string
	Kind    classify.ErrorKind
	FixedAt time.Time
}

// FixHistory is an in-memory History over prior successful fixes. Each
// file's raw score is the decay-weighted sum of its matching fixes,
// normalized by the maximum observed sum for the error kind.
type FixHistory struct {
	records []FixRecord
	now     func() time.Time
}

// NewFixHistory builds a history over the given records.
func NewFixHistory(records []FixRecord) *FixHistory {
	return &FixHistory{records: records, now: time.Now}
}

// Score implements History.
func (h *FixHistory) Score(path string, kind classify.ErrorKind) float64 {
	sums := map[string]float64{}
	now := h.now()
	for _, r := range h.records {
		if r.Kind != kind {
			continue
		}
		days := now.Sub(r.FixedAt).Hours() / 24
		sums[r.Path] += math.Exp(-decayRate * days)
	}

	max := 0.0
	for _, s := range sums {
		if s > max {
			max = s
		}
	}
	if max == 0 {
		return 0
	}
	return sums[path] / max
}
