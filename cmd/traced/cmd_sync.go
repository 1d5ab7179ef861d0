package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buildwithtrace/trace-agent/internal/auth"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync conversation history with the cloud",
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push unsynced conversations and messages now",
	RunE:  runSyncPush,
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull recent conversations from the cloud",
	RunE:  runSyncPull,
}

func runSyncPush(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.auth.State() != auth.SignedIn {
		return fmt.Errorf("sign in first: traced login")
	}
	if err := a.syncer.SyncNow(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Sync complete")
	return nil
}

func runSyncPull(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.auth.State() != auth.SignedIn {
		return fmt.Errorf("sign in first: traced login")
	}
	if err := a.syncer.FetchFromRemote(cmd.Context(), cfg.Sync.FetchLimit); err != nil {
		return err
	}
	fmt.Println("Pull complete")
	return nil
}
