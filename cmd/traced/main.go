package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/buildwithtrace/trace-agent/internal/config"
	"github.com/buildwithtrace/trace-agent/internal/logging"
)

var (
	// Global flags
	cfgPath   string
	debugMode bool

	// cfg is loaded once in the root PersistentPreRunE.
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "traced",
	Short: "Trace design agent - AI editing for schematics and PCBs",
	Long: `traced is the local agent behind Trace's AI editing features.

It streams chat turns to the Trace backend, executes the tools the
model requests against local design files (sandboxed, with optimistic
concurrency), keeps trace and KiCad representations converging through
a debounced converter, and syncs conversation history to the cloud.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		if debugMode {
			cfg.Logging.Debug = true
			cfg.Logging.Level = "debug"
		}
		logDir := cfg.Logging.Dir
		if logDir == "" {
			logDir = cfg.Data.Dir
		}
		return logging.Initialize(logging.Options{
			Debug: cfg.Logging.Debug,
			Level: cfg.Logging.Level,
			Dir:   logDir,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file (default: ~/.trace/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugMode, "debug", "d", false, "Enable debug file logging")

	// Chat flags
	chatCmd.Flags().StringVarP(&chatFile, "file", "f", "", "Design file to attach (trace or KiCad)")
	chatCmd.Flags().StringVarP(&chatMode, "mode", "m", "agent", "Chat mode: agent, plan or ask")
	chatCmd.Flags().StringVarP(&chatConversation, "conversation", "c", "", "Continue an existing conversation")

	// Conversation flags
	conversationsListCmd.Flags().IntVar(&conversationsLimit, "limit", 20, "Maximum conversations to list")
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)
	conversationsCmd.AddCommand(conversationsPruneCmd)

	// Version flags
	versionsListCmd.Flags().IntVar(&versionsLimit, "limit", 20, "Maximum versions to list")
	versionsSaveCmd.Flags().StringVar(&versionDescription, "description", "", "Version description")
	versionsCmd.AddCommand(versionsListCmd)
	versionsCmd.AddCommand(versionsSaveCmd)
	versionsCmd.AddCommand(versionsRestoreCmd)

	// Sync subcommands
	syncCmd.AddCommand(syncPushCmd)
	syncCmd.AddCommand(syncPullCmd)

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(syncCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
