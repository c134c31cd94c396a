package main

import (
	"context"
	"os"

	"github.com/dwn-core/dwn/pkg/dwn"
)

func openNode(ctx context.Context) (*dwn.Node, error) {
	if err := os.MkdirAll(cfg.BlobstoreRoot, 0755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.IndexstoreRoot, 0755); err != nil {
		return nil, err
	}
	return dwn.Open(ctx, cfg)
}
