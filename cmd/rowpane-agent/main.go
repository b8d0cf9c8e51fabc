package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/kardianos/service"
	"github.com/sethvargo/go-password/password"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rowpane/rowpane/internal/agent"
	"github.com/rowpane/rowpane/internal/agentproto"
	"github.com/rowpane/rowpane/internal/config"
	"github.com/rowpane/rowpane/internal/logger"
)

var (
	// Version info (set by ldflags)
	version = "dev"

	// Flags
	configPath string
	debug      bool
	userMode   bool
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rowpane-agent",
		Short: "rowpane delegation agent",
		Long: `rowpane-agent runs next to databases the rowpane client cannot reach and
executes the DAO commands it delegates over HTTP.

Service Management:
  rowpane-agent install [--user]   Install as system/user service
  rowpane-agent uninstall          Remove the service
  rowpane-agent start              Start the installed service
  rowpane-agent stop               Stop the running service
  rowpane-agent restart            Restart the service
  rowpane-agent status [--json]    Show service status

Direct Run (for debugging):
  rowpane-agent run [--debug]      Run in foreground mode

Credentials:
  rowpane-agent token generate     Generate a JWT secret and connection token
  rowpane-agent token sign TOKEN   Sign a command token for manual requests`,
		Version: version,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/rowpane/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newRunCmd(),
		newInstallCmd(),
		newStatusCmd(),
		newTokenCmd(),
	)
	for _, op := range serviceOps {
		rootCmd.AddCommand(newServiceOpCmd(op))
	}

	if err := rootCmd.Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadConfigFromPath(configPath)
	}
	return config.LoadConfig()
}

func initLogger(cfg *config.Config) {
	level := logger.ParseLevel(cfg.Logging.Level)
	if debug {
		level = slog.LevelDebug
	}
	logger.InitLogger(level, cfg.Logging.File, "rowpane-agent")
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run agent in foreground (for debugging)",
		Long: `Run the agent in foreground mode. The service manager also starts the
agent through this command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			agent.Version = version
			if !service.Interactive() {
				return runService()
			}
			return runForeground()
		},
	}
}

// runService hands control to the OS service manager.
func runService() error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(agent.ExitConfigError)
	}
	initLogger(cfg)
	defer logger.Close()

	svc, err := agent.NewService(agent.ServiceConfig{ConfigPath: configPath, Debug: debug})
	if err != nil {
		return err
	}
	return svc.Run()
}

// runForeground runs the agent until SIGINT or SIGTERM.
func runForeground() error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(agent.ExitConfigError)
	}
	initLogger(cfg)
	defer logger.Close()

	a, err := agent.New(cfg, logger.Logger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating agent: %v\n", err)
		os.Exit(agent.ExitConfigError)
	}
	a.Watch(loader)

	if err := a.Start(); err != nil {
		_ = a.Stop()
		fmt.Fprintf(os.Stderr, "Error starting agent: %v\n", err)
		os.Exit(agent.ExitStartFailed)
	}
	fmt.Printf("rowpane-agent listening on %s\n", cfg.Agent.Listen)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
	case err := <-a.Done():
		if err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		}
	}

	if err := a.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping agent: %v\n", err)
		os.Exit(1)
	}
	return nil
}

func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install rowpane-agent as a system service",
		Long: `Install rowpane-agent as a service that starts on boot. --user installs a
per-user service; a system service needs root or administrator rights.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := agent.Install(agent.ServiceConfig{
				ConfigPath: configPath,
				UserMode:   userMode,
				Debug:      debug,
			})
			exitOnServiceError(err, agent.ExitConfigError)

			kind := "system"
			if userMode {
				kind = "user"
			}
			fmt.Printf("rowpane-agent installed as a %s service; start it with 'rowpane-agent start'\n", kind)
			return nil
		},
	}
	cmd.Flags().BoolVar(&userMode, "user", false, "install as user service instead of system")
	return cmd
}

// serviceOp describes one service manager action exposed as a subcommand.
type serviceOp struct {
	use, short string
	run        func() error
	done       string
	failCode   int
}

var serviceOps = []serviceOp{
	{"uninstall", "Stop and remove the rowpane-agent service", agent.Uninstall, "uninstalled", 1},
	{"start", "Start the installed service", agent.Start, "started", agent.ExitStartFailed},
	{"stop", "Stop the running service", agent.Stop, "stopped", agent.ExitStopFailed},
	{"restart", "Restart the service", agent.Restart, "restarted", agent.ExitRestartFailed},
}

func newServiceOpCmd(op serviceOp) *cobra.Command {
	return &cobra.Command{
		Use:   op.use,
		Short: op.short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if agent.RequiresSudo() {
				fmt.Fprintf(os.Stderr, "rowpane-agent: the system service is managed by root; run: sudo rowpane-agent %s\n", op.use)
				os.Exit(agent.ExitPermissionDenied)
			}
			exitOnServiceError(op.run(), op.failCode)
			fmt.Printf("rowpane-agent %s\n", op.done)
			return nil
		},
	}
}

// exitOnServiceError prints err and exits with the code matching its
// service state, or fallback for anything unrecognized. A nil err returns.
func exitOnServiceError(err error, fallback int) {
	if err == nil {
		return
	}
	code := fallback
	var permErr *agent.PermissionError
	switch {
	case errors.As(err, &permErr):
		code = agent.ExitPermissionDenied
	case errors.Is(err, agent.ErrServiceInstalled):
		code = agent.ExitServiceExists
		err = fmt.Errorf("%w; run 'rowpane-agent uninstall' to reinstall", err)
	case errors.Is(err, agent.ErrServiceNotInstalled):
		code = agent.ExitServiceNotFound
		err = fmt.Errorf("%w; run 'rowpane-agent install' first", err)
	case errors.Is(err, agent.ErrServiceRunning):
		code = agent.ExitAlreadyRunning
	case errors.Is(err, agent.ErrServiceNotRunning):
		code = agent.ExitNotRunning
	}
	fmt.Fprintf(os.Stderr, "rowpane-agent: %v\n", err)
	os.Exit(code)
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service state, served connections and recent errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			// A broken config still reports the service state.
			cfg, _ := loadConfig()

			status, err := agent.GetStatus(cfg)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(status); err != nil {
					return err
				}
			} else {
				printHumanStatus(status)
			}
			os.Exit(statusExitCode(status))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	return cmd
}

func statusExitCode(status *agent.Status) int {
	switch status.State {
	case "not_installed":
		return agent.ExitServiceNotFound
	case "stopped":
		return agent.ExitStopped
	case "running", "running_foreground":
		if len(status.Errors) > 0 {
			return agent.ExitUnhealthy
		}
		return agent.ExitSuccess
	}
	return 1
}

// printHumanStatus renders status for a terminal.
func printHumanStatus(status *agent.Status) {
	fmt.Printf("rowpane-agent status: %s\n", status.State)
	switch status.State {
	case "not_installed":
		fmt.Println("install it with: rowpane-agent install")
		return
	case "stopped":
		fmt.Println("start it with: rowpane-agent start")
		return
	}

	info := table.NewWriter()
	info.SetOutputMirror(os.Stdout)
	info.SetStyle(table.StyleLight)
	info.Style().Options.DrawBorder = false
	info.Style().Options.SeparateColumns = false
	for _, kv := range []struct{ k, v string }{
		{"PID", pidString(status.PID)},
		{"Listen", status.Listen},
		{"Uptime", status.Uptime},
		{"Last command", status.LastCommand},
		{"Version", status.Version},
	} {
		if kv.v != "" {
			info.AppendRow(table.Row{kv.k, kv.v})
		}
	}
	info.Render()

	if len(status.Connections) > 0 {
		conns := table.NewWriter()
		conns.SetOutputMirror(os.Stdout)
		conns.SetStyle(table.StyleLight)
		conns.AppendHeader(table.Row{"Connection", "Engine", "Status", "Commands", "Failed", "Last seen", "Error"})
		for _, c := range status.Connections {
			conns.AppendRow(table.Row{c.Name, c.Engine, c.Status, c.Commands, c.Failures, c.LastSeen, c.Error})
		}
		fmt.Println()
		conns.Render()
	}

	if len(status.Errors) == 0 {
		return
	}
	fmt.Println("\nErrors:")
	for _, e := range status.Errors {
		fmt.Printf("  - %s\n", e)
	}
}

func pidString(pid int) string {
	if pid <= 0 {
		return ""
	}
	return strconv.Itoa(pid)
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage agent credentials",
	}
	cmd.AddCommand(newTokenGenerateCmd(), newTokenSignCmd())
	return cmd
}

// credentials is the config snippet printed by token generate.
type credentials struct {
	Agent struct {
		JWTSecret       string `yaml:"jwt_secret"`
		ConnectionToken string `yaml:"connection_token"`
	} `yaml:"agent"`
}

func newTokenGenerateCmd() *cobra.Command {
	var secretLen, tokenLen int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a JWT secret and a connection token",
		Long: `Generate a random JWT secret shared by client and agent, and a connection
token to set as agent_token on the agent-side connection and as
agent.connection_token (or the connection's agent_token) on the client.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := password.Generate(secretLen, secretLen/4, 0, false, true)
			if err != nil {
				return fmt.Errorf("failed to generate secret: %w", err)
			}
			token, err := password.Generate(tokenLen, tokenLen/4, 0, false, true)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}

			var out credentials
			out.Agent.JWTSecret = secret
			out.Agent.ConnectionToken = token
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(out)
		},
	}
	cmd.Flags().IntVar(&secretLen, "secret-length", 48, "JWT secret length")
	cmd.Flags().IntVar(&tokenLen, "token-length", 32, "connection token length")
	return cmd
}

func newTokenSignCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "sign CONNECTION_TOKEN",
		Short: "Sign a command token with the configured JWT secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = cfg.Agent.TokenTTL
			}
			raw, err := agentproto.SignToken([]byte(cfg.Agent.JWTSecret), args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Println(raw)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token validity (default agent.token_ttl)")
	return cmd
}
