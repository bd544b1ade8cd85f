package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// writeProgressDump writes a header-framed text file: plain UTF-8,
// '#'-prefixed header lines (project path, session name, ISO-8601 save
// time, reason token), followed by the captured scrollback verbatim.
func writeProgressDump(projectPath, progressDir, sessionName, reason, body string) (string, error) {
	dir := filepath.Join(projectPath, progressDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	now := time.Now()
	fileTimestamp := now.Format("2006-01-02_15-04-05")
	fileName := fmt.Sprintf("%s-%s-%s.txt", safeName(sessionName), fileTimestamp, reason)
	path := filepath.Join(dir, fileName)

	header := fmt.Sprintf(
		"# project: %s\n# session: %s\n# saved: %s\n# reason: %s\n\n",
		projectPath, sessionName, now.Format(time.RFC3339), reason,
	)

	if err := os.WriteFile(path, []byte(header+filterC0(body)), 0o644); err != nil {
		return "", fmt.Errorf("write progress dump: %w", err)
	}
	return path, nil
}

// filterC0 strips C0 control bytes except ESC (0x1B), \n (0x0A),
// \t (0x09) and \r (0x0D), per spec's "C0 controls filtered,
// ANSI left intact" rule for capture paths.
func filterC0(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b == 0x1B || b == '\n' || b == '\t' || b >= 0x20 {
			out = append(out, b)
			continue
		}
		if b == 0x0D { // \r kept, terminals rely on it
			out = append(out, b)
		}
	}
	return string(out)
}
