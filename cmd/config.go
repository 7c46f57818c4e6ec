package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "am"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage am configuration.

Running bare 'am config' is the same as 'am config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# am configuration
# See: am config show (for effective values and sources)

# State/data directory (default: ~/.config/am)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/am/am.db)
# db_path: {{ .DBPath }}

# Extra blocker patterns, merged over the built-ins (YAML, optional)
# patterns_file: ""

# Telegram
telegram:
  # Bot token from @BotFather
  token: "{{ .TelegramToken }}"

  # Chat to post session status cards into
  chat_id: {{ .TelegramChatID }}

# Anthropic (blocker assessment oracle; heuristic fallback when unset)
anthropic:
  api_key: "{{ .AnthropicAPIKey }}"
  model: "{{ .AnthropicModel }}"

# Agent settings
agent:
  # CLI binary to spawn (default: "claude")
  binary: "{{ .AgentBinary }}"

  # Model passed to the agent CLI (default: "opus")
  model: "{{ .AgentModel }}"

# Watch daemon
watch:
  # Trailing assistant messages scanned after a session exits (default: 2)
  last_n: {{ .WatchLastN }}

  # Long-poll timeout in seconds (default: 50)
  poll_sec: {{ .WatchPollSec }}
`

type configTemplateData struct {
	StateDir        string
	DBPath          string
	TelegramToken   string
	TelegramChatID  int64
	AnthropicAPIKey string
	AnthropicModel  string
	AgentBinary     string
	AgentModel      string
	WatchLastN      int
	WatchPollSec    int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:        viper.GetString("state_dir"),
		DBPath:          viper.GetString("db_path"),
		TelegramToken:   viper.GetString("telegram.token"),
		TelegramChatID:  viper.GetInt64("telegram.chat_id"),
		AnthropicAPIKey: viper.GetString("anthropic.api_key"),
		AnthropicModel:  viper.GetString("anthropic.model"),
		AgentBinary:     viper.GetString("agent.binary"),
		AgentModel:      viper.GetString("agent.model"),
		WatchLastN:      viper.GetInt("watch.last_n"),
		WatchPollSec:    viper.GetInt("watch.poll_sec"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "AM_STATE_DIR"},
	{Key: "db_path", EnvVar: "AM_DB_PATH"},
	{Key: "patterns_file", EnvVar: "AM_PATTERNS_FILE"},
	{Key: "telegram.token", EnvVar: "AM_TELEGRAM_TOKEN"},
	{Key: "telegram.chat_id", EnvVar: "AM_TELEGRAM_CHAT_ID"},
	{Key: "anthropic.api_key", EnvVar: "AM_ANTHROPIC_API_KEY"},
	{Key: "anthropic.model", EnvVar: "AM_ANTHROPIC_MODEL"},
	{Key: "agent.binary", EnvVar: "AM_AGENT_BINARY"},
	{Key: "agent.model", EnvVar: "AM_AGENT_MODEL"},
	{Key: "watch.last_n", EnvVar: "AM_WATCH_LAST_N"},
	{Key: "watch.poll_sec", EnvVar: "AM_WATCH_POLL_SEC"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Key == "telegram.token" || k.Key == "anthropic.api_key" {
			val = redact(fmt.Sprintf("%v", val))
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-22s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// redact hides all but the tail of a secret for display.
func redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set — set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'am config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
