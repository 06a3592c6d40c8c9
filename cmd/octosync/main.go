// Command octosync keeps local workspaces in sync with a relay.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/octosync/octosync/internal/storage"
	"github.com/octosync/octosync/internal/syncproto"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "octosync",
	Short: "Local-first workspace sync",
	Long: `octosync keeps workspaces (collaborative documents plus blobs) in a local
SQLite store and synchronizes them with a relay.

Configuration is read from octosync.yaml (current directory or
$HOME/.config/octosync), from OCTOSYNC_* environment variables and from flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "data", Title: "Data Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./octosync.yaml)")
	flags.String("store", defaultStorePath(), "path of the local store")
	flags.String("remote", "", "relay URL (ws, wss, http or https)")
	flags.String("log-file", "", "write logs to a rotating file instead of stderr")
	flags.BoolP("quiet", "q", false, "discard component logs")
	flags.Duration("sync-timeout", 0, "bound on establishing a sync session (0 = none)")
	flags.Duration("write-timeout", 0, "bound on a single update write (0 = none)")

	for _, key := range []string{"store", "remote", "log-file", "quiet", "sync-timeout", "write-timeout"} {
		_ = viper.BindPFlag(key, flags.Lookup(key))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("octosync")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "octosync"))
		}
	}

	viper.SetEnvPrefix("octosync")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
			os.Exit(1)
		}
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "octosync.db"
	}
	return filepath.Join(home, ".octosync", "store.db")
}

var (
	logOutputOnce sync.Once
	logOutput     io.Writer
)

// logWriter returns the destination of component logs.
func logWriter() io.Writer {
	logOutputOnce.Do(func() {
		switch {
		case viper.GetBool("quiet"):
			logOutput = io.Discard
		case viper.GetString("log-file") != "":
			logOutput = &lumberjack.Logger{
				Filename:   viper.GetString("log-file"),
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			}
		default:
			logOutput = os.Stderr
		}
	})
	return logOutput
}

func newLogger(component string) *log.Logger {
	return log.New(logWriter(), "["+component+"] ", log.LstdFlags)
}

// openStorage opens the configured store. With live set, workspaces are
// synced with the remote; otherwise they are loaded from the store only.
func openStorage(live bool) (*storage.Storage, error) {
	config := &storage.Config{
		Client:       storage.LocalClient,
		SyncTimeout:  viper.GetDuration("sync-timeout"),
		WriteTimeout: viper.GetDuration("write-timeout"),
		Logger:       newLogger("storage"),
	}
	if live {
		config.Client = storage.StartClient(&syncproto.ClientConfig{Logger: newLogger("sync")})
	}

	s := storage.NewWithConfig(viper.GetString("store"), config)
	if err := s.Err(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// openWorkspace loads a workspace from the local store.
func openWorkspace(ctx context.Context, s *storage.Storage, workspaceID string) (*storage.Workspace, error) {
	ws, err := s.Sync(ctx, workspaceID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace %s: %w", workspaceID, err)
	}
	return ws, nil
}

// requireRemote returns the configured remote.
func requireRemote() (string, error) {
	remote := viper.GetString("remote")
	if remote == "" {
		return "", fmt.Errorf("no remote configured (use --remote or OCTOSYNC_REMOTE)")
	}
	return remote, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
