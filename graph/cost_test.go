package graph

import (
	"math"
	"sync"
	"testing"
)

func TestCostTrackerRecordsKnownModelPricing(t *testing.T) {
	ct := NewCostTracker("run-001", "USD")

	// gpt-4o: $2.50 per 1M input, $10.00 per 1M output.
	if err := ct.RecordLLMCall("gpt-4o", 1_000_000, 1_000_000, "nodeA"); err != nil {
		t.Fatalf("RecordLLMCall returned error: %v", err)
	}

	want := 2.50 + 10.00
	if got := ct.GetTotalCost(); math.Abs(got-want) > 1e-9 {
		t.Errorf("GetTotalCost() = %f, want %f", got, want)
	}

	history := ct.GetCallHistory()
	if len(history) != 1 {
		t.Fatalf("expected 1 recorded call, got %d", len(history))
	}
	if history[0].Model != "gpt-4o" || history[0].NodeID != "nodeA" {
		t.Errorf("recorded call = %+v", history[0])
	}
}

func TestCostTrackerUnknownModelRecordsZeroCost(t *testing.T) {
	ct := NewCostTracker("run-001", "USD")

	if err := ct.RecordLLMCall("totally-unknown-model", 5000, 5000, ""); err != nil {
		t.Fatalf("RecordLLMCall returned error for unknown model: %v", err)
	}
	if got := ct.GetTotalCost(); got != 0 {
		t.Errorf("GetTotalCost() = %f, want 0 for unpriced model", got)
	}
	if len(ct.GetCallHistory()) != 1 {
		t.Error("unknown-model call should still be recorded")
	}
}

func TestCostTrackerCustomPricing(t *testing.T) {
	ct := NewCostTracker("run-001", "USD")
	ct.SetCustomPricing("my-local-model", 1.00, 2.00)

	if err := ct.RecordLLMCall("my-local-model", 500_000, 500_000, ""); err != nil {
		t.Fatalf("RecordLLMCall returned error: %v", err)
	}
	want := 0.50 + 1.00
	if got := ct.GetTotalCost(); math.Abs(got-want) > 1e-9 {
		t.Errorf("GetTotalCost() = %f, want %f", got, want)
	}
}

func TestCostTrackerTokenTotals(t *testing.T) {
	ct := NewCostTracker("run-001", "USD")
	_ = ct.RecordLLMCall("gpt-4o-mini", 100, 50, "n1")
	_ = ct.RecordLLMCall("gpt-4o-mini", 200, 75, "n2")

	in, out := ct.GetTokenUsage()
	if in != 300 || out != 125 {
		t.Errorf("GetTokenUsage() = (%d, %d), want (300, 125)", in, out)
	}

	byModel := ct.GetCostByModel()
	if len(byModel) != 1 {
		t.Errorf("GetCostByModel() has %d entries, want 1", len(byModel))
	}
}

func TestCostTrackerDisabled(t *testing.T) {
	ct := NewCostTracker("run-001", "USD")
	ct.Disable()
	_ = ct.RecordLLMCall("gpt-4o", 1_000_000, 1_000_000, "")
	if got := ct.GetTotalCost(); got != 0 {
		t.Errorf("disabled tracker recorded cost %f", got)
	}

	ct.Enable()
	_ = ct.RecordLLMCall("gpt-4o", 1_000_000, 0, "")
	if got := ct.GetTotalCost(); got == 0 {
		t.Error("re-enabled tracker did not record cost")
	}
}

func TestCostTrackerConcurrentRecording(t *testing.T) {
	ct := NewCostTracker("run-001", "USD")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ct.RecordLLMCall("gpt-4o-mini", 1000, 1000, "n")
		}()
	}
	wg.Wait()

	if got := len(ct.GetCallHistory()); got != 50 {
		t.Errorf("recorded %d calls, want 50", got)
	}
	in, out := ct.GetTokenUsage()
	if in != 50_000 || out != 50_000 {
		t.Errorf("token totals = (%d, %d), want (50000, 50000)", in, out)
	}
}
