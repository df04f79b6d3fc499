package supervisor

import (
	"fmt"
	"strings"

	"github.com/prometheus/procfs"
)

// findProcesses returns the pids under procRoot whose command line contains
// pattern, excluding self. Processes that vanish during the scan are ignored.
func findProcesses(procRoot, pattern string, self int) ([]int, error) {
	if pattern == "" {
		return nil, nil
	}
	procFS, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("supervisor.findProcesses: %w", err)
	}
	procs, err := procFS.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("supervisor.findProcesses: %w", err)
	}

	var pids []int
	for _, proc := range procs {
		if proc.PID == self {
			continue
		}
		args, err := proc.CmdLine()
		if err != nil || len(args) == 0 {
			continue
		}
		if strings.Contains(strings.Join(args, " "), pattern) {
			pids = append(pids, proc.PID)
		}
	}
	return pids, nil
}
