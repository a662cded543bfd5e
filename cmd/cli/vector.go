package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func vectorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vector",
		Short: "Replicated vector writes",
	}
	cmd.AddCommand(vectorInsertCmd())
	cmd.AddCommand(vectorDeleteCmd())
	return cmd
}

func vectorInsertCmd() *cobra.Command {
	var meta []string
	cmd := &cobra.Command{
		Use:   "insert <id> <v1,v2,...>",
		Short: "Insert a vector on the primary and replicate it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			vector, err := parseVector(args[1])
			if err != nil {
				return err
			}
			metadata := make(map[string]string, len(meta))
			for _, kv := range meta {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("metadata must be key=value, got %q", kv)
				}
				metadata[k] = v
			}
			ctx, cancel := apiCtx()
			defer cancel()
			if err := apiClient().Insert(ctx, args[0], vector, metadata); err != nil {
				return err
			}
			fmt.Printf("inserted %s (%d dims)\n", args[0], len(vector))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Metadata entry key=value (repeatable)")
	return cmd
}

func vectorDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a vector from the primary and all replicas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := apiCtx()
			defer cancel()
			if err := apiClient().Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vector := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		vector = append(vector, float32(f))
	}
	return vector, nil
}
