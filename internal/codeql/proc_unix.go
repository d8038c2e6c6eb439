//go:build !windows

package codeql

import "syscall"

// ProcessAlive reports whether a process with the given PID exists, using
// signal 0 as a pure liveness probe.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// KillProcess forcibly terminates the process holding a stale lock.
func KillProcess(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}
