// Package backoff implements the per-work-item-type retry schedule with
// jitter (spec §4.3).
package backoff

import (
	"math/rand"
	"time"
)

// WorkItemType mirrors the store's work item type taxonomy; duplicated here
// (rather than imported from internal/store) to keep this package leaf-level
// and dependency-free.
type WorkItemType string

const (
	TypeOrderSubmit        WorkItemType = "ORDER_SUBMIT"
	TypeOrderCancel        WorkItemType = "ORDER_CANCEL"
	TypeOrderSync          WorkItemType = "ORDER_SYNC"
	TypePositionClose      WorkItemType = "POSITION_CLOSE"
	TypeKillSwitch         WorkItemType = "KILL_SWITCH"
	TypeDecisionEvaluation WorkItemType = "DECISION_EVALUATION"
	TypeAssetUniverseSync  WorkItemType = "ASSET_UNIVERSE_SYNC"
)

// schedules holds the base-delay-in-ms list per type, per spec §4.3.
var schedules = map[WorkItemType][]int{
	TypeOrderSubmit:        {1000, 5000, 15000},
	TypeOrderCancel:        {1000, 3000, 10000},
	TypeOrderSync:          {5000, 15000, 60000},
	TypePositionClose:      {1000, 5000, 15000},
	TypeKillSwitch:         {500, 2000, 5000},
	TypeDecisionEvaluation: {2000, 10000, 30000},
	TypeAssetUniverseSync:  {60000, 300000, 600000},
}

// defaultSchedule is used for any type not in the table above (forward
// compatibility if a new work item type is introduced without a dedicated
// schedule).
var defaultSchedule = []int{1000, 5000, 15000}

// Delay returns the backoff duration for attempt n (0-indexed) of the given
// work item type: baseDelays[min(n, len-1)] plus uniform jitter in
// [0, 0.2*base].
func Delay(t WorkItemType, attempt int) time.Duration {
	sched, ok := schedules[t]
	if !ok {
		sched = defaultSchedule
	}
	if attempt < 0 {
		attempt = 0
	}
	idx := attempt
	if idx >= len(sched) {
		idx = len(sched) - 1
	}
	base := sched[idx]
	jitter := rand.Float64() * 0.2 * float64(base)
	return time.Duration(float64(base)+jitter) * time.Millisecond
}
