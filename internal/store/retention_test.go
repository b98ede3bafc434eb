package store

import (
	"testing"
	"time"

	"github.com/cwbudde/bioenfit/internal/minimize"
)

const day = 24 * time.Hour

func ids(infos []RunInfo) map[string]bool {
	set := make(map[string]bool, len(infos))
	for _, info := range infos {
		set[info.ID] = true
	}
	return set
}

func testInfos(now time.Time) []RunInfo {
	return []RunInfo{
		{ID: "run1", Status: minimize.Converged, Timestamp: now.AddDate(0, 0, -10)},
		{ID: "run2", Status: minimize.Failed, Timestamp: now.AddDate(0, 0, -5)},
		{ID: "run3", Status: minimize.Converged, Timestamp: now.AddDate(0, 0, -1)},
		{ID: "run4", Status: minimize.Failed, Timestamp: now.AddDate(0, 0, -30)},
	}
}

func TestRetentionPolicy_ByAge(t *testing.T) {
	now := time.Now()

	toDelete := ids(RetentionPolicy{OlderThan: 7 * day}.Select(testInfos(now), now))

	if len(toDelete) != 2 {
		t.Errorf("Expected 2 runs to delete, got %d", len(toDelete))
	}
	if !toDelete["run1"] || !toDelete["run4"] {
		t.Error("Expected run1 and run4 to be selected for deletion")
	}
}

func TestRetentionPolicy_ByCount(t *testing.T) {
	now := time.Now()

	toDelete := ids(RetentionPolicy{KeepLast: 2}.Select(testInfos(now), now))

	if len(toDelete) != 2 {
		t.Errorf("Expected 2 runs to delete, got %d", len(toDelete))
	}
	if !toDelete["run4"] || !toDelete["run1"] {
		t.Error("Expected run4 and run1 to be selected for deletion (oldest)")
	}
}

func TestRetentionPolicy_Combined(t *testing.T) {
	now := time.Now()
	infos := append(testInfos(now), RunInfo{ID: "run5", Timestamp: now.AddDate(0, 0, -2)})

	toDelete := ids(RetentionPolicy{KeepLast: 3, OlderThan: 7 * day}.Select(infos, now))
	if len(toDelete) != 2 || !toDelete["run1"] || !toDelete["run4"] {
		t.Errorf("Expected run1 and run4, got %v", toDelete)
	}

	// Keeping only one adds run2 and run5
	toDelete = ids(RetentionPolicy{KeepLast: 1, OlderThan: 7 * day}.Select(infos, now))
	if len(toDelete) != 4 || toDelete["run3"] {
		t.Errorf("Expected everything but run3, got %v", toDelete)
	}
}

func TestRetentionPolicy_FailedOnly(t *testing.T) {
	now := time.Now()

	toDelete := ids(RetentionPolicy{FailedOnly: true}.Select(testInfos(now), now))
	if len(toDelete) != 2 || !toDelete["run2"] || !toDelete["run4"] {
		t.Errorf("Expected the failed runs run2 and run4, got %v", toDelete)
	}

	toDelete = ids(RetentionPolicy{OlderThan: 7 * day, FailedOnly: true}.Select(testInfos(now), now))
	if len(toDelete) != 1 || !toDelete["run4"] {
		t.Errorf("Expected only run4, got %v", toDelete)
	}
}

func TestRetentionPolicy_EmptySelectsNothing(t *testing.T) {
	now := time.Now()
	if got := (RetentionPolicy{}).Select(testInfos(now), now); len(got) != 0 {
		t.Errorf("Empty policy selected %v", got)
	}
}
