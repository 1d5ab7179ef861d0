package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/buildwithtrace/trace-agent/internal/executor"
	"github.com/buildwithtrace/trace-agent/internal/stream"
)

var (
	chatFile         string
	chatMode         string
	chatConversation string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send one chat turn to the design agent",
	Long: `Streams a chat turn to the backend and executes any tools the
model requests against the attached design file.

Example:
  traced chat -f board.kicad_sch "add a decoupling capacitor to U1"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	message := strings.Join(args, " ")

	var tracePath, nativePath string
	appType := executor.AppSchematic
	if chatFile != "" {
		tracePath, nativePath, appType, err = resolveDesignFile(chatFile)
		if err != nil {
			return err
		}
	}

	conversationID, err := resolveConversation(a, message)
	if err != nil {
		return err
	}
	if _, err := a.store.SaveMessage(conversationID, "user", message, chatMetadata()); err != nil {
		return fmt.Errorf("saving user message: %w", err)
	}

	exec := a.newExecutor(appType, tracePath)
	client := stream.NewClient(cfg.Backend.APIURL, exec, a.converter)
	client.EventCallback = printEvent

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	result := client.StreamChat(ctx, stream.ChatRequest{
		Message:        message,
		SessionID:      uuid.NewString(),
		ConversationID: conversationID,
		Mode:           chatMode,
		AppType:        appType,
		FilePath:       tracePath,
		NativePath:     nativePath,
		AuthToken:      a.freshToken(),
		RefreshToken:   a.auth.RefreshToken(),
	})
	fmt.Println()

	// Run any conversion still sitting in the debounce slot.
	if exec.ConversionPending() {
		exec.FlushPendingConversion(ctx, true)
	}
	if !exec.WasLastConversionSuccessful() {
		fmt.Printf("Warning: conversion failed: %s\n", exec.LastConversionError())
	}

	switch result.Status {
	case stream.StatusSuccess, stream.StatusStopped:
		if result.Response != "" {
			if _, err := a.store.SaveMessage(conversationID, "assistant", result.Response, chatMetadata()); err != nil {
				return fmt.Errorf("saving assistant message: %w", err)
			}
		}
		if result.FileModified {
			fmt.Println("(design file modified)")
		}
		return nil
	default:
		return fmt.Errorf("%s: %s", result.Status, result.Error)
	}
}

// resolveConversation continues the flagged conversation or starts a new
// one titled from the message.
func resolveConversation(a *app, message string) (string, error) {
	if chatConversation != "" {
		existing, err := a.store.LoadConversation(chatConversation)
		if err != nil {
			return "", fmt.Errorf("conversation %s: %w", chatConversation, err)
		}
		return existing.ID, nil
	}

	title := message
	if len(title) > 50 {
		title = title[:50]
	}
	created, err := a.store.CreateConversation(a.auth.CurrentUser().ID, chatFile, uuid.NewString(), title)
	if err != nil {
		return "", fmt.Errorf("creating conversation: %w", err)
	}
	fmt.Printf("Conversation %s\n", created.ID)
	return created.ID, nil
}

func chatMetadata() string {
	data, _ := json.Marshal(map[string]string{"mode": chatMode})
	return string(data)
}

// printEvent renders stream events to the terminal as they arrive.
func printEvent(event stream.Event) {
	switch event.Type {
	case stream.EventTextDelta:
		fmt.Print(event.Content)
	case stream.EventToolCall:
		fmt.Printf("\n[tool: %s]\n", event.ToolName)
	case stream.EventFileEdit:
		fmt.Printf("\n[edit: %s refresh]\n", event.DiffType)
	case stream.EventModeTransition:
		fmt.Printf("\n[mode: %s -> %s]\n", event.FromMode, event.ToMode)
	case stream.EventError, stream.EventAuthError:
		fmt.Printf("\n[error: %s]\n", event.Error)
	}
}
