// Package cli implements the rowpane operator commands on top of the DAO
// factory.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rowpane/rowpane/internal/config"
	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/factory"
	"github.com/rowpane/rowpane/internal/logger"
)

// Output formats accepted by --output.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// app holds the state shared by every subcommand of one invocation.
type app struct {
	configPath string
	connection string
	output     string
	debug      bool

	cfg     *config.Config
	factory *factory.Factory
}

// NewRootCommand returns the rowpane command tree.
func NewRootCommand(version string) *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "rowpane",
		Short: "Browse and edit tables across database engines",
		Long: `rowpane drives the DAO layer from the command line. Every command works
against a named connection from the config file, including connections that
are delegated to a rowpane-agent.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) { a.close() },
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file path (default ~/.config/rowpane/config.yaml)")
	flags.StringVarP(&a.connection, "connection", "c", os.Getenv("ROWPANE_CONNECTION"), "connection name")
	flags.StringVarP(&a.output, "output", "o", FormatTable, "output format: table, json or yaml")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		a.newTestCmd(),
		a.newTablesCmd(),
		a.newDescribeCmd(),
		a.newRefsCmd(),
		a.newRowsCmd(),
		a.newGetCmd(),
		a.newInsertCmd(),
		a.newUpdateCmd(),
		a.newDeleteCmd(),
		a.newImportCmd(),
		a.newExportCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	switch a.output {
	case FormatTable, FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("unknown output format %q", a.output)
	}

	cfg, err := config.NewLoader(a.configPath).Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := logger.ParseLevel(cfg.Logging.Level)
	if a.debug {
		level = slog.LevelDebug
	}
	logger.InitLogger(level, cfg.Logging.File, "rowpane")

	a.factory = factory.FromConfig(cfg, logger.Logger(), nil)
	return nil
}

func (a *app) close() {
	if a.factory != nil {
		a.factory.Close()
	}
	logger.Close()
}

// conn resolves the selected connection. With a single configured
// connection the flag may be omitted.
func (a *app) conn() (config.ConnectionConfig, error) {
	name := a.connection
	if name == "" {
		if len(a.cfg.Connections) != 1 {
			return config.ConnectionConfig{}, fmt.Errorf("select a connection with --connection (%d configured)", len(a.cfg.Connections))
		}
		return a.cfg.Connections[0], nil
	}
	return a.cfg.Connection(name)
}

// dao returns the DAO of the selected connection.
func (a *app) dao() (dao.DataAccessObject, config.ConnectionConfig, error) {
	c, err := a.conn()
	if err != nil {
		return nil, c, err
	}
	d, err := a.factory.DAO(c.ConnectionParams)
	return d, c, err
}
