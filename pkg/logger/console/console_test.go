package console

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		params    ConsoleLoggerParams
		wantDebug bool
		wantInfo  bool
	}{
		{"Default", ConsoleLoggerParams{}, false, true},
		{"Debug", ConsoleLoggerParams{Debug: true}, true, true},
		{"LevelWins", ConsoleLoggerParams{Debug: true, Level: "warn"}, false, false},
		{"BadLevelIgnored", ConsoleLoggerParams{Level: "loud"}, false, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			tc.params.Output = &buf
			l := NewConsoleLogger(tc.params)

			l.Debug("debug-line")
			l.Info("info-line", "k", "v")

			out := buf.String()
			if strings.Contains(out, "debug-line") != tc.wantDebug {
				t.Fatalf("debug output mismatch: %q", out)
			}
			if strings.Contains(out, "info-line") != tc.wantInfo {
				t.Fatalf("info output mismatch: %q", out)
			}
		})
	}
}
