package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show coordinator statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := apiCtx()
			defer cancel()
			stats, err := apiClient().Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("instances: %d (%d online, %d offline, %d syncing)\n",
				stats.Instances, stats.OnlineInstances, stats.OfflineInstances, stats.SyncingInstances)
			fmt.Printf("local vectors: %d\n", stats.LocalVectors)
			fmt.Printf("syncs: %d total, %d failed, %d items, %d bytes\n",
				stats.TotalSyncs, stats.FailedSyncs, stats.ItemsSynced, stats.BytesTransferred)
			fmt.Printf("conflicts: %d detected, %d resolved\n",
				stats.ConflictsDetected, stats.ConflictsResolved)
			fmt.Printf("replication: %d writes, %d failed\n",
				stats.ReplicationWrites, stats.ReplicationFailed)
			fmt.Printf("health checks: %d, status transitions: %d\n",
				stats.HealthChecks, stats.StatusTransitions)
			return nil
		},
	}
}
