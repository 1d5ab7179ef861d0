package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/buildwithtrace/trace-agent/internal/auth"
	"github.com/buildwithtrace/trace-agent/internal/stream"
)

// loginWait bounds how long the login command waits for the browser
// callback before giving up.
const loginWait = 3 * time.Minute

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in through the browser",
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear stored credentials",
	RunE:  runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sign-in state and plan quota",
	RunE:  runStatus,
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.auth.State() == auth.SignedIn {
		fmt.Printf("Already signed in as %s\n", a.auth.CurrentUser().Email)
		return nil
	}

	signedIn := make(chan struct{}, 1)
	a.auth.StateCallback = func(s auth.State) {
		if s == auth.SignedIn {
			signedIn <- struct{}{}
		}
	}

	if err := a.auth.StartLogin(cfg.Backend.LoginURL); err != nil {
		return err
	}
	fmt.Printf("Waiting for browser sign-in (callback on port %d)...\n", a.auth.CallbackPort())

	select {
	case <-signedIn:
	case <-time.After(loginWait):
		return fmt.Errorf("timed out waiting for browser callback")
	}

	user := a.auth.CurrentUser()
	fmt.Printf("Signed in as %s (%s)\n", user.Email, user.ID)

	// Claim pre-sign-in conversations and pull the remote set.
	if a.store != nil && user.ID != "" {
		if n, err := a.store.SetUserIDForLocalConversations(user.ID); err == nil && n > 0 {
			fmt.Printf("Claimed %d local conversation(s)\n", n)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.syncer.FetchFromRemote(ctx, cfg.Sync.FetchLimit); err != nil {
			fmt.Printf("Warning: could not fetch remote conversations: %v\n", err)
		}
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.auth.State() != auth.SignedIn {
		fmt.Println("Not signed in")
		return nil
	}
	a.auth.SignOut()
	fmt.Println("Signed out")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	state := a.auth.State()
	fmt.Printf("State:   %s\n", state)
	if state != auth.SignedIn {
		return nil
	}

	user := a.auth.CurrentUser()
	fmt.Printf("User:    %s", user.Email)
	if user.FullName != "" {
		fmt.Printf(" (%s)", user.FullName)
	}
	fmt.Println()
	if a.auth.IsTokenExpiringSoon() {
		fmt.Println("Token:   expiring soon")
	}

	client := stream.NewClient(cfg.Backend.APIURL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	quota, err := client.GetUserQuota(ctx, a.freshToken())
	if err != nil {
		fmt.Printf("Quota:   unavailable (%v)\n", err)
		return nil
	}
	fmt.Printf("Plan:    %s\n", quota.Plan)
	if quota.CreditsRemaining != nil {
		fmt.Printf("Credits: %d remaining\n", *quota.CreditsRemaining)
	}
	return nil
}
