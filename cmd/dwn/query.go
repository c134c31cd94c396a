package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dwn-core/dwn/pkg/indexlevel"
	"github.com/dwn-core/dwn/pkg/query"
)

var (
	queryTenant       string
	queryEquals       []string
	querySortProperty string
	querySortDesc     bool
	queryLimit        int
	queryCursorCid    string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query messages by equality filters on indexed properties",
	Long: `query evaluates a single equality conjunct built from repeated
--eq property=value flags (all ANDed together), sorted by --sort-property
(default messageTimestamp) and paginated by --limit/--cursor.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conjunct := query.Conjunct{}
		for _, kv := range queryEquals {
			prop, val, err := splitEquals(kv)
			if err != nil {
				return err
			}
			conjunct[prop] = query.Equal(indexlevel.StringValue(val))
		}
		if len(conjunct) == 0 {
			return fmt.Errorf("at least one --eq property=value filter is required")
		}

		srt := query.Sort{Property: querySortProperty}
		if querySortDesc {
			srt.Direction = query.Desc
		}

		var limit *int
		if queryLimit > 0 {
			limit = &queryLimit
		}

		node, err := openNode(context.Background())
		if err != nil {
			return err
		}
		defer node.Close()

		res, err := node.Query(context.Background(), queryTenant, query.Filters{conjunct}, srt, limit, queryCursorCid)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(res.Messages, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		if res.PaginationMessageCid != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "next cursor: %s\n", *res.PaginationMessageCid)
		}
		return nil
	},
}

func splitEquals(kv string) (prop, val string, err error) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid --eq %q, expected property=value", kv)
}

func init() {
	queryCmd.Flags().StringVar(&queryTenant, "tenant", "", "tenant identifier (required)")
	queryCmd.Flags().StringArrayVar(&queryEquals, "eq", nil, "equality filter property=value, repeatable")
	queryCmd.Flags().StringVar(&querySortProperty, "sort-property", "", "sort property (default messageTimestamp)")
	queryCmd.Flags().BoolVar(&querySortDesc, "desc", false, "sort descending")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "page size limit (0 = unlimited)")
	queryCmd.Flags().StringVar(&queryCursorCid, "cursor", "", "continuation messageCid from a previous page")
	_ = queryCmd.MarkFlagRequired("tenant")
}
