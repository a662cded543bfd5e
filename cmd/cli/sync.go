package main

import (
	"fmt"

	"github.com/spf13/cobra"

	client "vex/clients/go"
	"vex/pkg/coordinator"
)

func syncCmd() *cobra.Command {
	var (
		direction  string
		resolution string
		batchSize  int
		full       bool
		namespace  string
	)
	cmd := &cobra.Command{
		Use:   "sync [instance-id]",
		Short: "Synchronize with one instance, or all online instances",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := apiCtx()
			defer cancel()
			req := client.SyncRequest{
				Direction:       direction,
				Resolution:      resolution,
				BatchSize:       batchSize,
				ForceFullSync:   full,
				NamespaceFilter: namespace,
			}
			if len(args) == 1 {
				res, err := apiClient().SyncInstance(ctx, args[0], req)
				if err != nil {
					return err
				}
				printResult(res)
				return nil
			}
			results, err := apiClient().SyncAll(ctx, req)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("no online instances")
				return nil
			}
			for _, res := range results {
				printResult(res)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "to", "Sync direction: to or from")
	cmd.Flags().StringVar(&resolution, "resolution", "", "Conflict policy: last-write-wins, manual or merge")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Items per transfer batch")
	cmd.Flags().BoolVar(&full, "full", false, "Ignore last sync time and transfer everything")
	cmd.Flags().StringVar(&namespace, "namespace", "", "Only sync ids with this prefix")
	return cmd
}

func printResult(res coordinator.SyncResult) {
	if res.Success {
		fmt.Printf("%s: ok - %d items, %d/%d conflicts resolved, %d bytes in %s\n",
			res.InstanceID, res.ItemsSynced, res.ConflictsResolved, res.ConflictsDetected,
			res.BytesTransferred, res.Duration)
	} else {
		fmt.Printf("%s: failed - %s\n", res.InstanceID, res.Error)
	}
	for _, c := range res.UnresolvedConflicts {
		fmt.Printf("  conflict %s: local ts %d, remote ts %d (suggest %s)\n",
			c.VectorID, c.Local.Timestamp, c.Remote.Timestamp, c.Suggestion)
	}
}
