// Package app wires the fare search service and exposes it as a command-line
// tool.
//
// The root command loads the configuration and sets up logging; subcommands
// run the HTTP server (serve), print the configured managers (managers) or
// run one search from the terminal (search).
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/alex-user-go/fares/internal/config"
	"github.com/alex-user-go/fares/internal/handler"
	"github.com/alex-user-go/fares/internal/manager"
)

// Log formats accepted by --log-format.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// CLI holds state shared by all commands.
type CLI struct {
	configPath string
	verbose    bool
	logFormat  string

	Config config.Config
	Logger *slog.Logger
}

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd() *cobra.Command {
	c := &CLI{}

	root := &cobra.Command{
		Use:          "fares",
		Short:        "Fares searches airline fare providers and merges their prices",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (.yaml, .json or .toml)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", LogFormatJSON, "log format: json or text")

	root.AddCommand(c.serveCommand())
	root.AddCommand(c.managersCommand())
	root.AddCommand(c.searchCommand())

	return root
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (c *CLI) setup(w io.Writer) error {
	logger, err := newLogger(w, c.logFormat, c.verbose)
	if err != nil {
		return err
	}
	c.Logger = logger
	slog.SetDefault(logger)

	cfg, err := loadConfig(c.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.Config = cfg
	return nil
}

// newLogger returns a JSON slog logger, or a charm logger used as the slog
// handler for human-readable output.
func newLogger(w io.Writer, format string, verbose bool) (*slog.Logger, error) {
	switch format {
	case LogFormatJSON:
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
	case LogFormatText:
		level := log.InfoLevel
		if verbose {
			level = log.DebugLevel
		}
		return slog.New(log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.00",
			Level:           level,
		})), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func (c *CLI) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.Config
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return Serve(cmd.Context(), cfg, c.Logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func (c *CLI) managersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "managers",
		Short: "List configured fare managers",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := manager.NewRegistry()
			for _, m := range c.Config.ManagerConfigs() {
				registry.Register(m)
			}
			return printManagers(cmd.OutOrStdout(), registry)
		},
	}
}

func printManagers(w io.Writer, registry *manager.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tORDER\tGAP\tMAX WAITING\tENABLED")
	for _, m := range registry.Configs() {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%t\n",
			m.ID, m.Name, m.Order, m.GapTimeServer, m.MaxWaiting, m.URL != "")
	}
	return tw.Flush()
}

func (c *CLI) searchCommand() *cobra.Command {
	var origin, destination, departure, ret string
	var adults int

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run one fare search and print the merged result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := handler.ParseQuery(url.Values{
				"origin":      {origin},
				"destination": {destination},
				"departure":   {departure},
				"return":      {ret},
				"adults":      {strconv.Itoa(adults)},
			})
			if err != nil {
				return err
			}

			services, err := Build(cmd.Context(), c.Config, c.Logger)
			if err != nil {
				return err
			}
			defer services.Close()

			start := time.Now()
			result, err := services.Aggregator.Search(cmd.Context(), q)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(handler.NewSearchResponse(q, result, "none", time.Since(start)))
		},
	}

	cmd.Flags().StringVar(&origin, "origin", "", "origin airport code")
	cmd.Flags().StringVar(&destination, "destination", "", "destination airport code")
	cmd.Flags().StringVar(&departure, "departure", "", "departure date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&ret, "return", "", "return date (YYYY-MM-DD), empty for one way")
	cmd.Flags().IntVar(&adults, "adults", 1, "number of adult passengers")
	_ = cmd.MarkFlagRequired("origin")
	_ = cmd.MarkFlagRequired("destination")
	_ = cmd.MarkFlagRequired("departure")

	return cmd
}
