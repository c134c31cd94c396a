package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	getTenant string
	getCid    string
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Fetch a message by its messageCid",
	RunE: func(cmd *cobra.Command, args []string) error {
		node, err := openNode(context.Background())
		if err != nil {
			return err
		}
		defer node.Close()

		msg, found, err := node.Get(context.Background(), getTenant, getCid)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no message %s for tenant %s", getCid, getTenant)
		}
		out, err := json.MarshalIndent(msg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	getCmd.Flags().StringVar(&getTenant, "tenant", "", "tenant identifier (required)")
	getCmd.Flags().StringVar(&getCid, "cid", "", "messageCid to fetch (required)")
	_ = getCmd.MarkFlagRequired("tenant")
	_ = getCmd.MarkFlagRequired("cid")
}
