package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	client "vex/clients/go"
	"vex/pkg/coordinator"
)

func apiClient() *client.Client {
	return client.New(serverAddr, &client.Options{Timeout: time.Duration(timeout) * time.Second})
}

func apiCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
}

func instanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Instance registry operations",
	}
	cmd.AddCommand(instanceRegisterCmd())
	cmd.AddCommand(instanceUnregisterCmd())
	cmd.AddCommand(instanceListCmd())
	cmd.AddCommand(instanceStatusCmd())
	return cmd
}

func instanceRegisterCmd() *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "register <id> <url>",
		Short: "Register a remote instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := apiCtx()
			defer cancel()
			err := apiClient().RegisterInstance(ctx, coordinator.DatabaseInstance{
				ID:      args[0],
				URL:     args[1],
				Version: version,
			})
			if err != nil {
				return err
			}
			fmt.Printf("registered %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "Instance compatibility version")
	return cmd
}

func instanceUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <id>",
		Short: "Remove a registered instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := apiCtx()
			defer cancel()
			if err := apiClient().UnregisterInstance(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("unregistered %s\n", args[0])
			return nil
		},
	}
}

func instanceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := apiCtx()
			defer cancel()
			instances, err := apiClient().ListInstances(ctx)
			if err != nil {
				return err
			}
			for i, inst := range instances {
				last := "never"
				if !inst.LastSyncAt.IsZero() {
					last = inst.LastSyncAt.Format(time.RFC3339)
				}
				fmt.Printf("%d) %s - %s - %s - %d vectors - last sync %s\n",
					i+1, inst.ID, inst.URL, inst.Status, inst.VectorCount, last)
			}
			return nil
		},
	}
}

func instanceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show the status of one instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := apiCtx()
			defer cancel()
			status, err := apiClient().InstanceStatus(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(status)
			return nil
		},
	}
}
