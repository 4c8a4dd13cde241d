package aggregate

import (
	"github.com/jdziat/simple-process-tracking/pkg/core"
	"github.com/jdziat/simple-process-tracking/pkg/sequence"
)

// Counts are the aggregate outcome counts of a batch.
type Counts struct {
	Produced int `json:"produced"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
}

// ItemStatus derives an in-process item's status. The item is COMPLETED
// when every operation of block has a latest history entry of PASS. An
// empty block never completes an item. COMPLETED is never left.
func ItemStatus(current core.ItemStatus, block []core.Operation, history []core.HistoryEntry) core.ItemStatus {
	if current == core.ItemCompleted {
		return current
	}
	if len(block) > 0 && allPassed(block, latestEntries(history)) {
		return core.ItemCompleted
	}
	if len(history) > 0 {
		return core.ItemInProgress
	}
	return current
}

// SerialStatus derives a serialized item's status from its attempts.
// PASSED when every serial-block operation's latest closed attempt passed;
// FAILED when nothing is open and the most recent close was a FAIL;
// IN_PROGRESS otherwise once any attempt exists. PASSED is never left.
func SerialStatus(current core.SerialStatus, block []core.Operation, attempts []core.Attempt) core.SerialStatus {
	if current == core.SerialPassed {
		return current
	}
	if len(attempts) == 0 {
		return current
	}

	byOp := make(map[string][]core.Attempt)
	hasOpen := false
	for _, a := range attempts {
		if a.Open() {
			hasOpen = true
			continue
		}
		byOp[a.OperationID] = append(byOp[a.OperationID], a)
	}

	if len(block) > 0 {
		latest := make(map[string]bool, len(byOp))
		for opID, list := range byOp {
			if l := sequence.Latest(list); l != nil {
				latest[opID] = l.Result.Passed()
			}
		}
		if allPassed(block, latest) {
			return core.SerialPassed
		}
	}

	if !hasOpen {
		if last := sequence.Latest(attempts); last != nil && last.Result == core.ResultFail {
			return core.SerialFailed
		}
	}
	return core.SerialInProgress
}

// BatchCounts derives a batch's counts. Passed counts COMPLETED items;
// failed counts the other items whose latest entry at some block operation
// is a FAIL.
func BatchCounts(items []core.InProcessItem, block []core.Operation, history []core.HistoryEntry) Counts {
	byItem := make(map[string][]core.HistoryEntry)
	for _, e := range history {
		byItem[e.ItemID] = append(byItem[e.ItemID], e)
	}

	inBlock := make(map[string]bool, len(block))
	for _, op := range block {
		inBlock[op.ID] = true
	}

	counts := Counts{Produced: len(items)}
	for _, item := range items {
		if item.Status == core.ItemCompleted {
			counts.Passed++
			continue
		}
		for opID, latest := range latestResults(byItem[item.ID]) {
			if inBlock[opID] && latest == core.ResultFail {
				counts.Failed++
				break
			}
		}
	}
	return counts
}

// latestEntries maps operation ID to whether its latest entry passed.
func latestEntries(history []core.HistoryEntry) map[string]bool {
	out := make(map[string]bool)
	for opID, r := range latestResults(history) {
		out[opID] = r.Passed()
	}
	return out
}

func latestResults(history []core.HistoryEntry) map[string]core.Result {
	byOp := make(map[string][]core.HistoryEntry)
	for _, e := range history {
		byOp[e.OperationID] = append(byOp[e.OperationID], e)
	}
	out := make(map[string]core.Result, len(byOp))
	for opID, list := range byOp {
		if l := sequence.LatestEntry(list); l != nil {
			out[opID] = l.Result
		}
	}
	return out
}

func allPassed(block []core.Operation, passed map[string]bool) bool {
	for _, op := range block {
		if !passed[op.ID] {
			return false
		}
	}
	return true
}
