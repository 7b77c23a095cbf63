// Package main provides the researchdesk CLI entry point.
// Without a subcommand it launches the interactive research TUI.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"researchdesk/cmd/researchdesk/chat"
	"researchdesk/internal/config"
	"researchdesk/internal/logging"
	"researchdesk/internal/research"
	"researchdesk/internal/transport"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	baseURL    string
	verbose    bool
	timeout    time.Duration

	// Resolved in PersistentPreRunE
	cfg         *config.Config
	resolvedCfg string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "researchdesk",
	Short: "Research Assistant - AI-powered research with web search and citations",
	Long: `researchdesk sends a research question to the research service and shows
the cited answer, a confidence score and the search queries that produced it.

Run without arguments to start the interactive interface.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive()
	},
}

func init() {
	// Assigned here rather than in the literal: setup refers to rootCmd.
	rootCmd.PersistentPreRunE = setup

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default .researchdesk/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "research service base URL (overrides config and "+config.EnvAPIURL+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging (tee to stderr outside the TUI)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "per-question request timeout (0 = none)")

	askCmd.Flags().BoolVar(&askRaw, "raw", false, "print the linked markdown instead of rendering it")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the response envelope as JSON")
	askCmd.MarkFlagsMutuallyExclusive("raw", "json")

	rootCmd.AddCommand(askCmd, healthCmd)
}

// setup loads config, applies flag overrides and initializes logging.
func setup(cmd *cobra.Command, args []string) error {
	resolvedCfg = configPath
	if resolvedCfg == "" {
		resolvedCfg = config.DefaultPath()
	}

	loaded, err := config.Load(resolvedCfg)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("base-url") {
		loaded.Service.BaseURL = strings.TrimSpace(baseURL)
	}
	if cmd.Flags().Changed("timeout") {
		loaded.Service.RequestTimeout = timeout.String()
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration in %s: %w", resolvedCfg, err)
	}
	cfg = loaded

	// The TUI owns the terminal, so only subcommands may tee to stderr.
	interactive := cmd == rootCmd
	settings := cfg.Logging.Settings(verbose && !interactive)
	if verbose {
		settings.Level = "debug"
	}
	if err := logging.Initialize(config.LogsDir(resolvedCfg), settings); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	logging.Boot("config %s, service %q, timeout %v", resolvedCfg, cfg.Service.BaseURL, cfg.GetRequestTimeout())
	return nil
}

func newClient() *transport.Client {
	cc := transport.DefaultClientConfig()
	cc.BaseURL = cfg.Service.BaseURL
	cc.HealthTimeout = cfg.GetHealthTimeout()
	return transport.NewClientWithConfig(cc)
}

// runInteractive launches the bubbletea TUI
func runInteractive() error {
	client := newClient()
	m := chat.New(chat.Options{
		Controller: newController(client, nil),
		Health:     client,
		Config:     cfg,
		ConfigPath: resolvedCfg,
	})

	p := tea.NewProgram(m, tea.WithAltScreen())
	final, err := p.Run()

	// Shutdown is idempotent, so quitting via Ctrl+C already covered this.
	if fm, ok := final.(chat.Model); ok {
		fm.Shutdown()
	} else {
		m.Shutdown()
	}
	if logging.IsDebugMode() {
		fmt.Fprintf(os.Stderr, "Debug logs: %s\n", logging.LogsDir())
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, "Error:", userMessage(err))
		os.Exit(1)
	}
}

// userMessage prefers the classified, user-facing text of research errors.
func userMessage(err error) string {
	if research.KindOf(err) != "" {
		return research.MessageOf(err)
	}
	return err.Error()
}
