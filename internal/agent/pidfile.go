package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFileName is the PID file inside the agent data directory.
const PIDFileName = "rowpane-agent.pid"

// ErrAgentRunning is returned when another agent instance is already running.
var ErrAgentRunning = errors.New("another rowpane-agent instance is already running")

// ErrNoPIDFile is returned when no PID file exists.
var ErrNoPIDFile = errors.New("no PID file found")

// ErrStalePIDFile is returned when the PID file exists but the process is not running.
var ErrStalePIDFile = errors.New("stale PID file (process not running)")

// PIDFilePath returns the PID file location for a data directory.
func PIDFilePath(dataDir string) string {
	return filepath.Join(dataDir, PIDFileName)
}

// WritePIDFile writes the current process ID, refusing when a live process
// already owns the file.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	existing, err := ReadPIDFile(path)
	if err == nil && existing > 0 && existing != os.Getpid() && isProcessRunning(existing) {
		return ErrAgentRunning
	}

	content := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// ReadPIDFile reads the PID from the PID file.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNoPIDFile
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// RemovePIDFile removes the PID file.
func RemovePIDFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// CheckPIDFile returns the PID of the running agent, 0 when no PID file
// exists, or ErrStalePIDFile when the recorded process is gone.
func CheckPIDFile(path string) (int, error) {
	pid, err := ReadPIDFile(path)
	if err != nil {
		if errors.Is(err, ErrNoPIDFile) {
			return 0, nil
		}
		return 0, err
	}
	if !isProcessRunning(pid) {
		return 0, ErrStalePIDFile
	}
	return pid, nil
}

func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix FindProcess always succeeds; signal 0 checks for existence.
	return process.Signal(syscall.Signal(0)) == nil
}

// AgentRunning reports whether an agent owns the PID file in dataDir.
// A stale file is removed.
func AgentRunning(dataDir string) (bool, int, error) {
	path := PIDFilePath(dataDir)
	pid, err := CheckPIDFile(path)
	if err != nil {
		if errors.Is(err, ErrStalePIDFile) {
			_ = RemovePIDFile(path)
			return false, 0, nil
		}
		return false, 0, err
	}
	return pid > 0, pid, nil
}
