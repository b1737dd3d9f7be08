//go:build !windows

package proc

import (
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// setDetached puts the child in its own process group so signals aimed at the
// tree never reach the supervisor.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
}

// alive reports whether pid exists, using the null signal.
func alive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

func signalTerm(pid int) {
	_ = unix.Kill(pid, unix.SIGTERM)
}

// signalGroupTerm signals the whole process group led by pid.
func signalGroupTerm(pid int) {
	_ = unix.Kill(-pid, unix.SIGTERM)
}

func signalKill(pid int) {
	_ = unix.Kill(pid, unix.SIGKILL)
}

func signalGroupKill(pid int) {
	_ = unix.Kill(-pid, unix.SIGKILL)
}

// descendantsOf walks the process table and returns every transitive child of
// pid, children before grandchildren.
func descendantsOf(pid int) ([]int, error) {
	out, err := exec.Command("ps", "-eo", "pid=,ppid=").Output()
	if err != nil {
		return nil, err
	}

	children := make(map[int][]int)
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		child, err1 := strconv.Atoi(fields[0])
		parent, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			continue
		}
		children[parent] = append(children[parent], child)
	}

	var result []int
	frontier := []int{pid}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, c := range children[next] {
			result = append(result, c)
			frontier = append(frontier, c)
		}
	}
	return result, nil
}
