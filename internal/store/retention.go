package store

import (
	"sort"
	"time"

	"github.com/cwbudde/bioenfit/internal/minimize"
)

// RetentionPolicy decides which stored runs are removed. A run is selected
// if it is older than OlderThan or not among the KeepLast newest runs.
// With FailedOnly, only failed runs are considered at all, and with
// neither limit set it selects every failed run.
type RetentionPolicy struct {
	KeepLast   int
	OlderThan  time.Duration
	FailedOnly bool
}

// Empty reports whether the policy would never select anything.
func (p RetentionPolicy) Empty() bool {
	return p.KeepLast <= 0 && p.OlderThan <= 0 && !p.FailedOnly
}

// Select returns the runs of infos the policy removes at time now, newest
// first.
func (p RetentionPolicy) Select(infos []RunInfo, now time.Time) []RunInfo {
	if p.Empty() {
		return nil
	}
	candidates := make([]RunInfo, 0, len(infos))
	for _, info := range infos {
		if p.FailedOnly && info.Status != minimize.Failed {
			continue
		}
		candidates = append(candidates, info)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Timestamp.After(candidates[j].Timestamp)
	})

	if p.KeepLast <= 0 && p.OlderThan <= 0 {
		return candidates
	}

	cutoff := now.Add(-p.OlderThan)
	var selected []RunInfo
	for i, info := range candidates {
		tooOld := p.OlderThan > 0 && info.Timestamp.Before(cutoff)
		beyondKeep := p.KeepLast > 0 && i >= p.KeepLast
		if tooOld || beyondKeep {
			selected = append(selected, info)
		}
	}
	return selected
}
