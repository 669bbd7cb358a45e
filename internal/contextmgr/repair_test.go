package contextmgr

import (
	"testing"

	"github.com/codexcore/agentcore/internal/protocol"
)

func TestRepairDropsOrphanOutput(t *testing.T) {
	items := []protocol.ResponseItem{
		{Kind: protocol.KindFunctionOutput, OutputFor: "nonexistent-call", Output: "x"},
		{Kind: protocol.KindUserMessage, Text: "hi"},
	}
	report, repaired := RepairWithReport(items)
	if report.DroppedOrphans != 1 {
		t.Fatalf("expected 1 orphan dropped, got %d", report.DroppedOrphans)
	}
	if len(repaired) != 1 || repaired[0].Kind != protocol.KindUserMessage {
		t.Fatalf("unexpected repaired list: %+v", repaired)
	}
}

func TestRepairSynthesizesAbortedOutputForDanglingCall(t *testing.T) {
	items := []protocol.ResponseItem{
		{Kind: protocol.KindFunctionCall, CallID: "call-1", ToolName: "shell"},
	}
	report, repaired := RepairWithReport(items)
	if len(report.Added) != 1 {
		t.Fatalf("expected 1 synthesized output, got %d", len(report.Added))
	}
	if len(repaired) != 2 {
		t.Fatalf("expected call + synthesized output, got %d items", len(repaired))
	}
	out := repaired[1]
	if out.Kind != protocol.KindFunctionOutput || out.OutputFor != "call-1" || out.Success {
		t.Fatalf("unexpected synthesized output: %+v", out)
	}
}

func TestRepairPassesThroughWellPairedItems(t *testing.T) {
	items := []protocol.ResponseItem{
		{Kind: protocol.KindFunctionCall, CallID: "c1"},
		{Kind: protocol.KindFunctionOutput, OutputFor: "c1", Success: true, Output: "ok"},
	}
	report, repaired := RepairWithReport(items)
	if report.DroppedOrphans != 0 || len(report.Added) != 0 {
		t.Fatalf("expected no changes, got %+v", report)
	}
	if len(repaired) != 2 {
		t.Fatalf("expected 2 items unchanged, got %d", len(repaired))
	}
}

func TestRepairDropsCallWithEmptyID(t *testing.T) {
	items := []protocol.ResponseItem{
		{Kind: protocol.KindFunctionCall, CallID: "", ToolName: "shell"},
	}
	report, repaired := RepairWithReport(items)
	if report.DroppedOrphans != 1 {
		t.Fatalf("expected call with empty id to be dropped, got report %+v", report)
	}
	if len(repaired) != 0 {
		t.Fatalf("expected empty repaired list, got %+v", repaired)
	}
}

func TestValidatePairingReportsMissing(t *testing.T) {
	items := []protocol.ResponseItem{
		{Kind: protocol.KindFunctionCall, CallID: "c1"},
		{Kind: protocol.KindFunctionCall, CallID: "c2"},
		{Kind: protocol.KindFunctionOutput, OutputFor: "c1"},
	}
	missing := ValidatePairing(items)
	if len(missing) != 1 || missing[0] != "c2" {
		t.Fatalf("expected [c2] missing, got %+v", missing)
	}
}

func TestRepairCallOutputPairingConvenienceWrapper(t *testing.T) {
	items := []protocol.ResponseItem{
		{Kind: protocol.KindFunctionCall, CallID: "c1"},
	}
	repaired := RepairCallOutputPairing(items)
	if len(repaired) != 2 {
		t.Fatalf("expected synthesized output appended, got %+v", repaired)
	}
}
