package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	timeout    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vex",
		Short: "vex - multi-instance vector store coordination CLI",
		Long:  `vex manages a coordinator daemon: instance registration, sync, replication and stats.`,
	}

	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:7700", "Daemon address")
	rootCmd.PersistentFlags().IntVar(&timeout, "timeout", 30, "Request timeout in seconds")

	rootCmd.AddCommand(instanceCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(vectorCmd())
	rootCmd.AddCommand(statsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
