package process

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// ProcessTable is the view of the OS process table the controller acts upon.
type ProcessTable interface {
	Alive(pid int) bool
	Signal(pid int, sig syscall.Signal) error
}

// OSProcessTable signals real processes.
type OSProcessTable struct{}

// Alive probes pid with signal 0. EPERM still means the process exists.
// Zombies answer signal 0 too, so an exited child not yet reaped counts as gone.
func (OSProcessTable) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}
	return !exited(pid)
}

func exited(pid int) bool {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return false
	}
	stat, err := proc.Stat()
	if err != nil {
		return false
	}
	return stat.State == "Z" || stat.State == "X"
}

func (OSProcessTable) Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("refusing to signal pid %d", pid)
	}
	if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to send %v to %d: %w", sig, pid, err)
	}
	return nil
}

// alive filters pids down to the ones still present in table.
func alive(table ProcessTable, pids []int) []int {
	var out []int
	for _, pid := range pids {
		if table.Alive(pid) {
			out = append(out, pid)
		}
	}
	return out
}
