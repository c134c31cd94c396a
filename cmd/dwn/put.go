package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	putTenant      string
	putMessageFile string
	putIndexesFile string
)

var putCmd = &cobra.Command{
	Use:   "put",
	Short: "Write a message and its indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := loadMessage(putMessageFile)
		if err != nil {
			return err
		}
		indexes, err := loadIndexes(putIndexesFile)
		if err != nil {
			return err
		}

		node, err := openNode(context.Background())
		if err != nil {
			return err
		}
		defer node.Close()

		id, err := node.Put(context.Background(), putTenant, msg, indexes)
		if err != nil {
			return err
		}
		fmt.Println(id.String())
		return nil
	},
}

func init() {
	putCmd.Flags().StringVar(&putTenant, "tenant", "", "tenant identifier (required)")
	putCmd.Flags().StringVar(&putMessageFile, "message", "", "path to a JSON message body (required)")
	putCmd.Flags().StringVar(&putIndexesFile, "indexes", "", "path to a flat JSON object of index values (required)")
	_ = putCmd.MarkFlagRequired("tenant")
	_ = putCmd.MarkFlagRequired("message")
	_ = putCmd.MarkFlagRequired("indexes")
}
