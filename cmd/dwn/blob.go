package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/spf13/cobra"

	"github.com/dwn-core/dwn/pkg/contentaddr"
)

var blobCmd = &cobra.Command{
	Use:   "blob",
	Short: "Manage content-addressed blobs",
}

var (
	blobPutTenant string
	blobPutRecord string
	blobPutFile   string
)

var blobPutCmd = &cobra.Command{
	Use:   "put",
	Short: "Stream a file into the blob store",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(blobPutFile)
		if err != nil {
			return err
		}
		dataCid, err := contentaddr.DataCid(data)
		if err != nil {
			return err
		}

		record := blobPutRecord
		if record == "" {
			record = uuid.NewString()
		}

		node, err := openNode(context.Background())
		if err != nil {
			return err
		}
		defer node.Close()

		n, err := node.PutBlob(context.Background(), blobPutTenant, record, dataCid, data)
		if err != nil {
			return err
		}
		fmt.Printf("recordId=%s dataCid=%s bytes=%d\n", record, dataCid.String(), n)
		return nil
	},
}

var (
	blobGetTenant string
	blobGetRecord string
	blobGetCid    string
	blobGetOut    string
)

var blobGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Stream a blob out to a file (or stdout)",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataCid, err := cid.Decode(blobGetCid)
		if err != nil {
			return fmt.Errorf("invalid --cid %q: %w", blobGetCid, err)
		}

		node, err := openNode(context.Background())
		if err != nil {
			return err
		}
		defer node.Close()

		res, found, err := node.GetBlob(context.Background(), blobGetTenant, blobGetRecord, dataCid)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no blob %s for (tenant=%s, record=%s)", blobGetCid, blobGetTenant, blobGetRecord)
		}
		defer res.Stream.Close()

		out := os.Stdout
		if blobGetOut != "" {
			f, err := os.Create(blobGetOut)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(f, res.Stream)
			return err
		}
		_, err = io.Copy(out, res.Stream)
		return err
	},
}

func init() {
	blobPutCmd.Flags().StringVar(&blobPutTenant, "tenant", "", "tenant identifier (required)")
	blobPutCmd.Flags().StringVar(&blobPutRecord, "record", "", "record identifier (default: a generated uuid)")
	blobPutCmd.Flags().StringVar(&blobPutFile, "file", "", "path to the file to store (required)")
	_ = blobPutCmd.MarkFlagRequired("tenant")
	_ = blobPutCmd.MarkFlagRequired("file")

	blobGetCmd.Flags().StringVar(&blobGetTenant, "tenant", "", "tenant identifier (required)")
	blobGetCmd.Flags().StringVar(&blobGetRecord, "record", "", "record identifier (required)")
	blobGetCmd.Flags().StringVar(&blobGetCid, "cid", "", "dataCid to fetch (required)")
	blobGetCmd.Flags().StringVar(&blobGetOut, "out", "", "output file path (default stdout)")
	_ = blobGetCmd.MarkFlagRequired("tenant")
	_ = blobGetCmd.MarkFlagRequired("record")
	_ = blobGetCmd.MarkFlagRequired("cid")

	blobCmd.AddCommand(blobPutCmd)
	blobCmd.AddCommand(blobGetCmd)
}
