package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/am/internal/detect"
	"github.com/joescharf/am/internal/oracle"
	"github.com/joescharf/am/internal/output"
	"github.com/joescharf/am/internal/store"
	"github.com/joescharf/am/internal/triage"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "am",
	Short: "Agent Monitor - watch autonomous coding sessions for blockers",
	Long: `am watches autonomous coding-agent sessions, detects when they get
stuck waiting on a human, and escalates through chat. Replies to a
session's status card are routed back into the running session, or
reconstruct it from its resume token when the process is gone.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "am %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
	},
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/am/config.yaml)")

	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "am")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("AM")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "am")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "am.db"))
	viper.SetDefault("patterns_file", "")
	viper.SetDefault("telegram.token", "")
	viper.SetDefault("telegram.chat_id", int64(0))
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("agent.binary", "claude")
	viper.SetDefault("agent.model", "opus")
	viper.SetDefault("watch.last_n", 2)
	viper.SetDefault("watch.poll_sec", 50)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getDetector builds the pattern detector, overlaying extra patterns from the
// configured patterns file when one is set.
func getDetector() (*detect.Detector, error) {
	path := viper.GetString("patterns_file")
	if path == "" {
		return detect.NewDetector(), nil
	}

	extra, err := detect.LoadPatternsFile(path)
	if err != nil {
		return nil, fmt.Errorf("load patterns file: %w", err)
	}
	c, err := detect.NewClassifierWithExtra(extra)
	if err != nil {
		return nil, fmt.Errorf("compile extra patterns: %w", err)
	}
	return detect.NewDetectorWith(c), nil
}

// getOracle returns the Anthropic oracle when an API key is configured, and
// the local heuristic fallback otherwise.
func getOracle() oracle.Oracle {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		ui.VerboseLog("no anthropic.api_key configured, using heuristic assessment")
		return oracle.NewHeuristicOracle()
	}
	return oracle.NewAnthropicOracle(apiKey, viper.GetString("anthropic.model"))
}

func getAssessor() *triage.Assessor {
	return triage.NewAssessor(getOracle())
}

func getInterventor(d *detect.Detector) *triage.Interventor {
	return triage.NewInterventor(getOracle(), d)
}
