package video

import "testing"

func TestParseStatus(t *testing.T) {
	for _, status := range AllStatuses() {
		parsed, ok := ParseStatus(" " + string(status) + " ")
		if !ok || parsed != status {
			t.Fatalf("ParseStatus(%q) = %q, %v", status, parsed, ok)
		}
	}
	if _, ok := ParseStatus("encoding"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
	if _, ok := ParseStatus(""); ok {
		t.Fatal("expected empty status to be rejected")
	}
}

func TestTerminalAndPhase(t *testing.T) {
	cases := []struct {
		status   Status
		terminal bool
		phase    string
	}{
		{StatusUploading, false, "moderating"},
		{StatusModerationPassed, false, "passed"},
		{StatusBlocked, true, "blocked"},
		{StatusModerationFailed, true, "failed"},
		{StatusFailed, true, "failed"},
		{StatusProcessed, true, "processed"},
	}
	for _, tc := range cases {
		if got := tc.status.IsTerminal(); got != tc.terminal {
			t.Fatalf("%s terminal = %v, want %v", tc.status, got, tc.terminal)
		}
		if got := tc.status.ClientPhase(); got != tc.phase {
			t.Fatalf("%s phase = %q, want %q", tc.status, got, tc.phase)
		}
	}
}
