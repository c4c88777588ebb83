package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shuttlehq/shuttle/pkg/client"
	"github.com/shuttlehq/shuttle/pkg/types"
)

func cliClient(cmd *cobra.Command) *client.CoordinatorClient {
	addr, _ := cmd.Flags().GetString("coordinator")
	return client.NewCoordinatorClient(addr)
}

func cliContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

var triggerCmd = &cobra.Command{
	Use:   "trigger [source-id]",
	Short: "Trigger a sync",
	Long: `Trigger a sync for one source, or for every active source with --all.
The command returns once the sync is admitted; progress is asynchronous.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		modeFlag, _ := cmd.Flags().GetString("mode")
		mode := types.SyncMode(modeFlag)

		ctx, cancel := cliContext()
		defer cancel()
		c := cliClient(cmd)

		if all {
			results, err := c.TriggerAll(ctx, mode)
			if err != nil {
				return err
			}
			for _, res := range results {
				if res.SyncRunID != "" {
					fmt.Printf("%s: run %s (%s)\n", res.SourceID, res.SyncRunID, res.Status)
				} else {
					fmt.Printf("%s: %s\n", res.SourceID, res.Status)
				}
			}
			return nil
		}

		if len(args) != 1 {
			return fmt.Errorf("source-id is required (or use --all)")
		}
		res, err := c.TriggerSync(ctx, args[0], mode)
		if err != nil {
			return err
		}
		fmt.Printf("Sync run %s started (%s)\n", res.SyncRunID, res.Status)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [sync-run-id]",
	Short: "Show sync status",
	Long: `Without arguments, list every source's schedule and sync state.
With a sync run ID, show that run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cliContext()
		defer cancel()
		c := cliClient(cmd)

		if len(args) == 1 {
			run, err := c.GetSyncRun(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Run:       %s\n", run.ID)
			fmt.Printf("Source:    %s (%s)\n", run.SourceID, run.SourceType)
			fmt.Printf("Status:    %s\n", run.Status)
			fmt.Printf("Mode:      %s, trigger %s\n", run.SyncType, run.TriggerType)
			fmt.Printf("Scanned:   %d\n", run.DocumentsScanned)
			fmt.Printf("Processed: %d\n", run.DocumentsProcessed)
			fmt.Printf("Updated:   %d\n", run.DocumentsUpdated)
			if run.Error != "" {
				fmt.Printf("Error:     %s\n", run.Error)
			}
			return nil
		}

		entries, err := c.ListSchedules(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No sources registered")
			return nil
		}
		fmt.Printf("%-36s  %-8s  %-8s  %-8s  %s\n", "SOURCE", "TYPE", "ACTIVE", "STATUS", "NEXT SYNC")
		for _, e := range entries {
			next := "-"
			if e.NextSyncAt != nil {
				next = e.NextSyncAt.Format(time.RFC3339)
			}
			fmt.Printf("%-36s  %-8s  %-8t  %-8s  %s\n", e.SourceID, e.SourceType, e.Active, e.SyncStatus, next)
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <sync-run-id>",
	Short: "Cancel a running sync",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cliContext()
		defer cancel()

		status, err := cliClient(cmd).CancelSync(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Cancellation: %s\n", status)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{triggerCmd, statusCmd, cancelCmd} {
		cmd.Flags().String("coordinator", "http://localhost:7700", "Coordinator base URL")
	}
	triggerCmd.Flags().Bool("all", false, "Trigger every active source")
	triggerCmd.Flags().String("mode", "incremental", "Sync mode: full or incremental")
}
