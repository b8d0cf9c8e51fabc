package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kardianos/service"

	"github.com/rowpane/rowpane/internal/config"
	"github.com/rowpane/rowpane/internal/logger"
)

// ServiceName is the OS service name of the agent.
const ServiceName = "rowpane-agent"

// Exit codes of the rowpane-agent service commands.
const (
	ExitSuccess          = 0
	ExitServiceNotFound  = 1
	ExitNotRunning       = 1
	ExitServiceExists    = 2
	ExitAlreadyRunning   = 2
	ExitStopFailed       = 2
	ExitRestartFailed    = 2
	ExitStopped          = 2
	ExitPermissionDenied = 3
	ExitConfigError      = 3
	ExitStartFailed      = 3
	ExitUnhealthy        = 3
)

// Service state errors.
var (
	ErrServiceInstalled    = errors.New("service already installed")
	ErrServiceNotInstalled = errors.New("service not installed")
	ErrServiceRunning      = errors.New("service already running")
	ErrServiceNotRunning   = errors.New("service not running")
)

// ServiceConfig holds configuration for creating the service.
type ServiceConfig struct {
	ConfigPath string
	UserMode   bool
	Debug      bool
}

// program implements service.Program for kardianos/service.
type program struct {
	agent      *Agent
	configPath string
}

// Start loads the configuration and starts serving. It returns once the
// listener is bound, as kardianos/service requires.
func (p *program) Start(s service.Service) error {
	loader := config.NewLoader(p.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a, err := New(cfg, logger.Logger())
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	a.Watch(loader)
	if err := a.Start(); err != nil {
		_ = a.Stop()
		return err
	}
	p.agent = a
	return nil
}

// Stop is called when the service stops.
func (p *program) Stop(s service.Service) error {
	if p.agent != nil {
		return p.agent.Stop()
	}
	return nil
}

// NewService creates a new service instance.
func NewService(svcConfig ServiceConfig) (service.Service, error) {
	prg := &program{configPath: svcConfig.ConfigPath}

	cfg := &service.Config{
		Name:        ServiceName,
		DisplayName: "rowpane agent",
		Description: "Executes delegated rowpane database commands against connections reachable from this machine.",
	}

	// A user service is detected by its plist in LaunchAgents.
	userMode := svcConfig.UserMode
	if !userMode {
		userMode = isUserServiceInstalled()
	}
	if userMode {
		cfg.Option = service.KeyValue{
			"UserService": true,
		}
	}

	switch runtime.GOOS {
	case "darwin":
		cfg.Option = mergeOptions(cfg.Option, service.KeyValue{
			"KeepAlive":      true,
			"RunAtLoad":      true,
			"LaunchOnlyOnce": false,
		})
	case "linux":
		cfg.Option = mergeOptions(cfg.Option, service.KeyValue{
			"Restart": "on-failure",
		})
	case "windows":
		cfg.Option = mergeOptions(cfg.Option, service.KeyValue{
			"OnFailure":              "restart",
			"OnFailureDelayDuration": "5s",
			"OnFailureResetPeriod":   10,
		})
	}

	if svcConfig.ConfigPath != "" {
		cfg.Arguments = []string{"run", "--config", svcConfig.ConfigPath}
	} else {
		cfg.Arguments = []string{"run"}
	}
	if svcConfig.Debug {
		cfg.Arguments = append(cfg.Arguments, "--debug")
	}

	return service.New(prg, cfg)
}

// mergeOptions merges two KeyValue maps.
func mergeOptions(base, additional service.KeyValue) service.KeyValue {
	if base == nil {
		base = service.KeyValue{}
	}
	for k, v := range additional {
		base[k] = v
	}
	return base
}

// Install installs the service.
func Install(svcConfig ServiceConfig) error {
	svc, err := NewService(svcConfig)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	status, err := svc.Status()
	if err == nil && status != service.StatusUnknown {
		return ErrServiceInstalled
	}

	if err := svc.Install(); err != nil {
		if os.IsPermission(err) {
			return &PermissionError{Err: err}
		}
		return fmt.Errorf("failed to install service: %w", err)
	}
	return nil
}

// Uninstall stops and removes the service.
func Uninstall() error {
	svc, err := NewService(ServiceConfig{})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	status, err := svc.Status()
	if err != nil || status == service.StatusUnknown {
		return ErrServiceNotInstalled
	}
	if status == service.StatusRunning {
		_ = svc.Stop()
	}

	if err := svc.Uninstall(); err != nil {
		if os.IsPermission(err) {
			return &PermissionError{Err: err}
		}
		return fmt.Errorf("failed to uninstall service: %w", err)
	}
	return nil
}

// Start starts the installed service.
func Start() error {
	svc, err := NewService(ServiceConfig{})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	status, err := svc.Status()
	if err != nil {
		return ErrServiceNotInstalled
	}
	if status == service.StatusRunning {
		return ErrServiceRunning
	}

	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	return nil
}

// Stop stops the running service.
func Stop() error {
	svc, err := NewService(ServiceConfig{})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	status, err := svc.Status()
	if err != nil {
		return ErrServiceNotInstalled
	}
	if status != service.StatusRunning {
		return ErrServiceNotRunning
	}

	if err := svc.Stop(); err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}
	return nil
}

// Restart restarts the service.
func Restart() error {
	svc, err := NewService(ServiceConfig{})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	if _, err := svc.Status(); err != nil {
		return ErrServiceNotInstalled
	}
	if err := svc.Restart(); err != nil {
		return fmt.Errorf("failed to restart service: %w", err)
	}
	return nil
}

// Status represents the service status.
type Status struct {
	State       string                    `json:"state"`
	PID         int                       `json:"pid,omitempty"`
	Uptime      string                    `json:"uptime,omitempty"`
	Listen      string                    `json:"listen,omitempty"`
	LastCommand string                    `json:"last_command,omitempty"`
	Connections []ServiceConnectionStatus `json:"connections,omitempty"`
	Errors      []string                  `json:"errors,omitempty"`
	Version     string                    `json:"version,omitempty"`
}

// ServiceConnectionStatus is one served connection in the status output.
type ServiceConnectionStatus struct {
	Name     string `json:"name"`
	Engine   string `json:"engine"`
	Status   string `json:"status"`
	Commands int64  `json:"commands"`
	Failures int64  `json:"failures"`
	LastSeen string `json:"last_seen,omitempty"`
	Error    string `json:"error,omitempty"`
}

// GetStatus combines the service manager's view with the agent's status
// database. An agent started with `run` outside the service manager is
// reported through its PID file.
func GetStatus(cfg *config.Config) (*Status, error) {
	status := &Status{Errors: []string{}}

	svc, err := NewService(ServiceConfig{})
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	svcStatus, svcErr := svc.Status()
	switch {
	case svcErr != nil:
		status.State = "not_installed"
	case svcStatus == service.StatusRunning:
		status.State = "running"
	case svcStatus == service.StatusStopped:
		status.State = "stopped"
	default:
		status.State = "unknown"
	}
	if cfg == nil {
		return status, nil
	}

	running, pid, err := AgentRunning(cfg.Agent.DataDir)
	if err != nil {
		status.Errors = append(status.Errors, err.Error())
	}
	if !running {
		return status, nil
	}
	if status.State != "running" {
		status.State = "running_foreground"
	}
	status.PID = pid

	agentStatus, conns, err := readAgentStatus(context.Background(), cfg.Agent.DataDir)
	if err != nil {
		status.Errors = append(status.Errors, err.Error())
		return status, nil
	}
	if agentStatus != nil {
		status.Version = agentStatus.Version
		status.Listen = agentStatus.Listen
		if !agentStatus.StartTime.IsZero() {
			status.Uptime = formatUptime(agentStatus.StartTime)
		}
		if agentStatus.LastCommand != nil {
			status.LastCommand = formatTimeSince(*agentStatus.LastCommand)
		}
		if agentStatus.ErrorCount > 0 && agentStatus.LastError != "" {
			status.Errors = append(status.Errors, agentStatus.LastError)
		}
	}
	for _, c := range conns {
		cs := ServiceConnectionStatus{
			Name:     c.Name,
			Engine:   c.Engine,
			Status:   string(c.Status),
			Commands: c.Commands,
			Failures: c.Failures,
			Error:    c.ErrorMessage,
		}
		if c.LastSeen != nil {
			cs.LastSeen = formatTimeSince(*c.LastSeen)
		}
		status.Connections = append(status.Connections, cs)
	}
	return status, nil
}

// PermissionError indicates an operation requires elevated privileges.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	if runtime.GOOS == "windows" {
		return "administrator privileges required"
	}
	return "permission denied (try with sudo)"
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// isUserServiceInstalled checks if the service plist exists in user's LaunchAgents.
func isUserServiceInstalled() bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(homeDir, "Library", "LaunchAgents", ServiceName+".plist"))
	return err == nil
}

// isSystemServiceInstalled checks if the service plist exists in system LaunchDaemons.
func isSystemServiceInstalled() bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	_, err := os.Stat(filepath.Join("/Library/LaunchDaemons", ServiceName+".plist"))
	return err == nil
}

// IsRunningAsRoot returns true if the process is running with root privileges.
func IsRunningAsRoot() bool {
	return os.Geteuid() == 0
}

// RequiresSudo returns true if the installed service requires sudo to manage.
func RequiresSudo() bool {
	return isSystemServiceInstalled() && !IsRunningAsRoot()
}
