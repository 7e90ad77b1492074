package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var rule = strings.Repeat("=", 60)

func formatResult(command, summary string, now time.Time) string {
	var b strings.Builder
	b.WriteString(rule + "\n")
	b.WriteString("Agent task summary\n")
	fmt.Fprintf(&b, "Time: %s\n", now.Format(time.DateTime))
	fmt.Fprintf(&b, "Command: %s\n", preview(command, 100))
	b.WriteString(rule + "\n\n")
	b.WriteString(summary)
	b.WriteString("\n\n" + rule + "\n")
	return b.String()
}

// writeResultFile overwrites path with the latest summary.
func writeResultFile(path, command, summary string, now time.Time) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(formatResult(command, summary, now)), 0o644)
}
