//go:build windows

package proc

import (
	"os/exec"
	"strconv"
	"strings"
)

func setDetached(cmd *exec.Cmd) {
	// Windows children are addressed through taskkill's tree flag instead of
	// a process group.
}

func alive(pid int) bool {
	out, err := exec.Command("tasklist", "/FI", "PID eq "+strconv.Itoa(pid), "/NH").Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), strconv.Itoa(pid))
}

// signalTerm asks the tree rooted at pid to exit.
func signalTerm(pid int) {
	_ = exec.Command("taskkill", "/T", "/PID", strconv.Itoa(pid)).Run()
}

func signalGroupTerm(pid int) {
	// Covered by the /T tree flag in signalTerm.
}

func signalKill(pid int) {
	_ = exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
}

func signalGroupKill(pid int) {
	// Covered by the /T tree flag in signalKill.
}

// descendantsOf is handled by taskkill's /T flag on Windows; per-descendant
// kills are not needed.
func descendantsOf(pid int) ([]int, error) {
	return nil, nil
}
