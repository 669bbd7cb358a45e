package contextmgr

import (
	"time"

	"github.com/codexcore/agentcore/internal/protocol"
)

// RepairReport summarizes what RepairCallOutputPairing changed.
type RepairReport struct {
	Added          []protocol.ResponseItem
	DroppedOrphans int
}

// RepairCallOutputPairing enforces the C7 invariant that every recorded
// call eventually has exactly one matching output with the same call id:
// orphan outputs (no matching call) are dropped, and any call left without
// an output by the end of the list gets a synthesized aborted output
// appended immediately after it.
func RepairCallOutputPairing(items []protocol.ResponseItem) []protocol.ResponseItem {
	report, repaired := repairWithReport(items)
	_ = report
	return repaired
}

// RepairWithReport is RepairCallOutputPairing plus a report of what moved,
// for callers (C8's resume path) that need to log what was synthesized.
func RepairWithReport(items []protocol.ResponseItem) (RepairReport, []protocol.ResponseItem) {
	return repairWithReport(items)
}

func repairWithReport(items []protocol.ResponseItem) (RepairReport, []protocol.ResponseItem) {
	var report RepairReport

	pendingCallIndex := make(map[string]int)
	hasOutput := make(map[string]bool)
	out := make([]protocol.ResponseItem, 0, len(items))

	for _, item := range items {
		if item.IsOutput() {
			if item.OutputFor == "" {
				report.DroppedOrphans++
				continue
			}
			if _, pending := pendingCallIndex[item.OutputFor]; !pending {
				report.DroppedOrphans++
				continue
			}
			delete(pendingCallIndex, item.OutputFor)
			hasOutput[item.OutputFor] = true
			out = append(out, item)
			continue
		}

		if item.IsCall() {
			if item.CallID == "" {
				// A call with no id can never be paired; drop it rather
				// than leave a dangling invariant violation.
				report.DroppedOrphans++
				continue
			}
			pendingCallIndex[item.CallID] = len(out)
			out = append(out, item)
			continue
		}

		out = append(out, item)
	}

	if len(pendingCallIndex) == 0 {
		return report, out
	}
	repaired := make([]protocol.ResponseItem, 0, len(out)+len(pendingCallIndex))
	for i, item := range out {
		repaired = append(repaired, item)
		if idx, dangling := pendingCallIndex[item.CallID]; dangling && idx == i {
			synthetic := protocol.AbortedOutput(item.CallID, 0)
			synthetic.CreatedAt = time.Now()
			repaired = append(repaired, synthetic)
			report.Added = append(report.Added, synthetic)
		}
	}

	return report, repaired
}

// ValidatePairing returns the call ids that have no matching output,
// without mutating anything.
func ValidatePairing(items []protocol.ResponseItem) []string {
	pending := make(map[string]bool)
	var order []string
	for _, item := range items {
		if item.IsCall() && item.CallID != "" {
			if !pending[item.CallID] {
				order = append(order, item.CallID)
			}
			pending[item.CallID] = true
		}
		if item.IsOutput() && item.OutputFor != "" {
			delete(pending, item.OutputFor)
		}
	}
	var missing []string
	for _, id := range order {
		if pending[id] {
			missing = append(missing, id)
		}
	}
	return missing
}
