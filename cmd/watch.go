package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/am/internal/daemon"
	"github.com/joescharf/am/internal/telegram"
	"github.com/joescharf/am/internal/watch"
)

var watchForeground bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the session watcher daemon",
	Long: `Run the watcher: it long-polls Telegram for replies to session
status cards, routes them into running sessions (or reconstructs
dormant ones by resume token), and escalates blocked sessions.

Bare 'am watch' starts the daemon in the background; use --foreground
to keep it attached to the terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchForeground {
			return watchRun()
		}
		return watchStartRun()
	},
}

var watchRunCmd = &cobra.Command{
	Use:    "run",
	Hidden: true,
	Short:  "Run the watch loop in the current process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchRun()
	},
}

var watchStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running watcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchStopRun()
	},
}

var watchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the watcher is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchStatusRun()
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchForeground, "foreground", false, "Run attached to the terminal instead of daemonizing")
	watchCmd.AddCommand(watchRunCmd)
	watchCmd.AddCommand(watchStopCmd)
	watchCmd.AddCommand(watchStatusCmd)
	rootCmd.AddCommand(watchCmd)
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "am-watch.pid"))
}

func watchLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "am-watch.log")
}

// watchStartRun spawns a detached 'am watch run' child and returns.
func watchStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("watcher already running (pid %d)", pid)
	}

	if dryRun {
		ui.DryRunMsg("Would start watcher daemon, logging to %s", watchLogPath())
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	if err := os.MkdirAll(viper.GetString("state_dir"), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(watchLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	child := exec.Command(exe, "watch", "run")
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	ui.Success("Watcher started (pid %d), logging to %s", child.Process.Pid, watchLogPath())
	return nil
}

// watchRun is the actual daemon loop, used by 'watch run' and --foreground.
func watchRun() error {
	token := viper.GetString("telegram.token")
	if token == "" {
		return fmt.Errorf("telegram.token is not configured (run 'am config init')")
	}
	chatID := viper.GetInt64("telegram.chat_id")
	if chatID == 0 {
		return fmt.Errorf("telegram.chat_id is not configured (run 'am config init')")
	}

	pf := pidFile()
	if err := os.MkdirAll(viper.GetString("state_dir"), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := pf.Acquire(); err != nil {
		return fmt.Errorf("watcher %s", err)
	}
	defer pf.Release()

	s, err := getStore()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	d, err := getDetector()
	if err != nil {
		return err
	}

	w := watch.New(
		telegram.NewBot(token),
		s, d, getAssessor(), getInterventor(d), ui,
		watch.Config{
			ChatID:      chatID,
			AgentBinary: viper.GetString("agent.binary"),
			AgentModel:  viper.GetString("agent.model"),
			LastN:       viper.GetInt("watch.last_n"),
			PollSec:     viper.GetInt("watch.poll_sec"),
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	ui.Info("Watching chat %d (pid %d)", chatID, os.Getpid())
	err = w.Run(ctx)
	if err == context.Canceled {
		ui.Info("Watcher stopped.")
		return nil
	}
	return err
}

func watchStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		return fmt.Errorf("watcher is not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop watcher (pid %d)", pid)
		return nil
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("stop watcher: %w", err)
	}

	// Give it a moment to exit and clean up its PID file.
	for i := 0; i < 20; i++ {
		if _, still := pf.IsRunning(); !still {
			ui.Success("Watcher stopped (pid %d)", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("watcher (pid %d) did not exit; try 'kill -9 %d'", pid, pid)
}

func watchStatusRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		ui.Success("Watcher running (pid %d), log: %s", pid, watchLogPath())
	} else {
		ui.Info("Watcher is not running.")
	}
	return nil
}
