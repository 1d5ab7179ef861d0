package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	conversationsLimit int
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Manage local conversation history",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent conversations",
	RunE:  runConversationsList,
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print a conversation's messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsShow,
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a conversation and its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsDelete,
}

var conversationsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete conversations older than the retention window",
	RunE:  runConversationsPrune,
}

func runConversationsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	convs, err := a.store.ListConversations(a.auth.CurrentUser().ID, conversationsLimit)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Println("No conversations")
		return nil
	}
	for _, conv := range convs {
		marker := " "
		if !conv.IsSynced {
			marker = "*"
		}
		fmt.Printf("%s %s  %s  %s\n", marker, conv.ID, conv.UpdatedAt, conv.Title)
	}
	return nil
}

func runConversationsShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := a.store.LoadConversation(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s  %s\n", conv.ID, conv.Title)
	if conv.Summary != "" {
		fmt.Printf("Summary: %s\n", conv.Summary)
	}
	fmt.Println()

	msgs, err := a.store.LoadMessages(conv.ID, 0)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		fmt.Printf("[%s] %s\n%s\n\n", msg.CreatedAt, msg.Role, msg.Content)
	}
	return nil
}

func runConversationsDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.DeleteConversation(args[0]); err != nil {
		return err
	}
	fmt.Println("Deleted")
	return nil
}

func runConversationsPrune(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.store.DeleteOld(cfg.Data.RetentionDays)
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d conversation(s)\n", n)
	return nil
}
