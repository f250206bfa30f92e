package dtvclient

import (
	"strings"
	"testing"
)

func TestFormatSnapshotSorted(t *testing.T) {
	got := FormatSnapshot(map[string]any{
		"zeta":  "z",
		"alpha": float64(1),
		"mid":   true,
	})

	want := "  alpha: 1\n  mid: true\n  zeta: \"z\"\n"
	if got != want {
		t.Errorf("FormatSnapshot() = %q, want %q", got, want)
	}
}

func TestFormatDump(t *testing.T) {
	out := FormatDump(
		SystemInfo{"volStatus": "50%"}, nil,
		nil, NewDecodeError("a", PathValues, nil, nil),
	)

	if !strings.HasPrefix(out, "=== system_info.cgi ===\n  volStatus: \"50%\"\n") {
		t.Errorf("FormatDump() system info section = %q", out)
	}
	if !strings.Contains(out, "=== values.cgi ===\n  ERROR: Failed to parse controller response\n") {
		t.Errorf("FormatDump() values section = %q", out)
	}
}

func TestSummary(t *testing.T) {
	info := SystemInfo{
		"valve1_Currentstatus": "On",
		"valve1outlet2":        true,
		"degree_symbol":        "F",
	}
	got := Summary("10.0.0.5", info, Values{"MAC": "AA:BB"})
	if got != "DTV+ 10.0.0.5 (AA:BB, °F) running valve1:2" {
		t.Errorf("Summary() = %q", got)
	}

	idle := Summary("10.0.0.5", nil, nil)
	if !strings.Contains(idle, "idle") || !strings.Contains(idle, "unknown MAC") {
		t.Errorf("Summary(empty) = %q", idle)
	}
}
