package status

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNodeSnapshotOmitsAbsentFields(t *testing.T) {
	snap := &NodeSnapshot{
		Address:   "addr",
		Status:    StatusOffline,
		UpdatedAt: time.Unix(1700000000, 0).UTC(),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	for _, key := range []string{"uptime_seconds", "ping_ms", "hardware", "market", "earnings_usd_total", "queue_position", "benchmark", "errors"} {
		if strings.Contains(string(data), `"`+key+`"`) {
			t.Errorf("JSON contains %q for absent field: %s", key, data)
		}
	}
	if !strings.Contains(string(data), `"status":"offline"`) {
		t.Errorf("JSON missing status: %s", data)
	}
}

func TestNodeSnapshotZeroIsNotAbsent(t *testing.T) {
	zero := 0.0
	snap := &NodeSnapshot{Address: "addr", Status: StatusRunning, EarningsUSDTotal: &zero}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"earnings_usd_total":0`) {
		t.Errorf("JSON should carry a present zero: %s", data)
	}
}
