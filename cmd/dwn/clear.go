package main

import (
	"context"

	"github.com/spf13/cobra"
)

var clearTenant string

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Wipe every message, index entry, and blob for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		node, err := openNode(context.Background())
		if err != nil {
			return err
		}
		defer node.Close()
		return node.Clear(context.Background(), clearTenant)
	},
}

func init() {
	clearCmd.Flags().StringVar(&clearTenant, "tenant", "", "tenant identifier (required)")
	_ = clearCmd.MarkFlagRequired("tenant")
}
