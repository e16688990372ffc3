// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package verifycli

import (
	"context"

	"github.com/spf13/cobra"

	"lbcv.dev/verifier/internal/bytecode"
	"lbcv.dev/verifier/internal/verifycache"
	"lbcv.dev/verifier/internal/verifyserver"
)

func newServeCommand(g *globalConfig) *cobra.Command {
	var addr string
	c := &cobra.Command{
		Use:                   "serve",
		Short:                 "run the verification HTTP service",
		Args:                  cobra.NoArgs,
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.Flags().StringVar(&addr, "listen", "", "address to bind if not socket-activated (defaults to the config's listenAddress)")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		if addr == "" {
			addr = g.cfg.ListenAddress
		}
		return runServe(cmd.Context(), g, addr)
	}
	return c
}

func runServe(ctx context.Context, g *globalConfig, addr string) error {
	var cache *verifycache.Cache
	if g.cfg.CacheDB != "" {
		c, err := verifycache.Open(ctx, g.cfg.CacheDB)
		if err != nil {
			return err
		}
		defer c.Close()
		cache = c
	}

	allocator := bytecode.NoLimitAllocator
	if g.cfg.MaxAllocation > 0 {
		allocator = bytecode.NewBoundedAllocator(g.cfg.MaxAllocation)
	}

	srv := verifyserver.New(verifyserver.Options{
		Allocator: allocator,
		MaxDepth:  g.cfg.MaxDepth,
		Cache:     cache,
	})
	return verifyserver.Run(ctx, addr, srv)
}
