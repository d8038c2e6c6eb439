//go:build windows

package codeql

import "os"

// ProcessAlive reports whether a process with the given PID exists.
// Windows has no signal 0; FindProcess succeeding is the best available probe.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}

// KillProcess forcibly terminates the process holding a stale lock.
func KillProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
