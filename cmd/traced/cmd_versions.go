package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buildwithtrace/trace-agent/internal/stream"
)

var (
	versionsLimit      int
	versionDescription string
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Manage cloud design versions",
}

var versionsListCmd = &cobra.Command{
	Use:   "list [design-file]",
	Short: "List saved versions of a design file",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersionsList,
}

var versionsSaveCmd = &cobra.Command{
	Use:   "save [design-file]",
	Short: "Save the current design as a cloud version",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersionsSave,
}

var versionsRestoreCmd = &cobra.Command{
	Use:   "restore [version-id] [design-file]",
	Short: "Restore a cloud version over the local file",
	Args:  cobra.ExactArgs(2),
	RunE:  runVersionsRestore,
}

func runVersionsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	tracePath, _, _, err := resolveDesignFile(args[0])
	if err != nil {
		return err
	}

	client := stream.NewClient(cfg.Backend.APIURL, nil, nil)
	versions, err := client.ListVersions(cmd.Context(), tracePath, a.freshToken(), versionsLimit)
	if err != nil {
		return err
	}
	fmt.Println(string(versions))
	return nil
}

func runVersionsSave(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	tracePath, _, _, err := resolveDesignFile(args[0])
	if err != nil {
		return err
	}

	client := stream.NewClient(cfg.Backend.APIURL, nil, nil)
	versionID, err := client.SaveVersion(cmd.Context(), tracePath, versionDescription, "", a.freshToken(), "")
	if err != nil {
		return err
	}
	fmt.Printf("Saved version %s\n", versionID)
	return nil
}

func runVersionsRestore(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	tracePath, _, _, err := resolveDesignFile(args[1])
	if err != nil {
		return err
	}

	client := stream.NewClient(cfg.Backend.APIURL, nil, nil)
	if err := client.RestoreVersion(cmd.Context(), args[0], tracePath, a.freshToken()); err != nil {
		return err
	}
	fmt.Printf("Restored version %s into %s\n", args[0], tracePath)
	return nil
}
