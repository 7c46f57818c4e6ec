package agent

import (
	"os/exec"
	"path/filepath"
	"strings"
)

// ProcessDetector checks whether a claude process is running in a directory.
// Used to reconcile the live set against reality after restarts.
type ProcessDetector interface {
	IsClaudeRunning(workingDir string) bool
}

// OSProcessDetector detects claude processes using pgrep + lsof (macOS/Linux).
type OSProcessDetector struct{}

// IsClaudeRunning returns true if a `claude` process has its cwd at or under workingDir.
func (d *OSProcessDetector) IsClaudeRunning(workingDir string) bool {
	absWD, err := filepath.Abs(workingDir)
	if err != nil {
		return false
	}

	out, err := exec.Command("pgrep", "-x", "claude").Output()
	if err != nil {
		return false // pgrep not found or no matches
	}

	for pid := range strings.FieldsSeq(strings.TrimSpace(string(out))) {
		cwd := getCwd(pid)
		if cwd == "" {
			continue
		}
		absCwd, err := filepath.Abs(cwd)
		if err != nil {
			continue
		}
		if absCwd == absWD || strings.HasPrefix(absCwd, absWD+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// getCwd resolves the current working directory of a process via lsof.
func getCwd(pid string) string {
	out, err := exec.Command("lsof", "-a", "-p", pid, "-d", "cwd", "-Fn").Output()
	if err != nil {
		return ""
	}
	for line := range strings.SplitSeq(string(out), "\n") {
		if strings.HasPrefix(line, "n") && !strings.HasPrefix(line, "n ") {
			return line[1:]
		}
	}
	return ""
}
