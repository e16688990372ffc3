// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package verifycli

import (
	"bytes"
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"lbcv.dev/verifier/internal/bytecode"
	"lbcv.dev/verifier/internal/verify"
	"lbcv.dev/verifier/internal/verifycache"
)

type verifyOptions struct {
	files []string
	quiet bool
}

func newVerifyCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "verify FILE [...]",
		Short:                 "verify that compiled Lua chunks are safe to load",
		Args:                  cobra.MinimumNArgs(1),
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := new(verifyOptions)
	c.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "suppress per-file verdict lines")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		opts.files = args
		return runVerify(cmd.Context(), g, opts)
	}
	return c
}

func runVerify(ctx context.Context, g *globalConfig, opts *verifyOptions) error {
	var cache *verifycache.Cache
	if g.cfg.CacheDB != "" {
		c, err := verifycache.Open(ctx, g.cfg.CacheDB)
		if err != nil {
			return fmt.Errorf("open verdict cache: %w", err)
		}
		defer c.Close()
		cache = c
	}

	allocator := bytecode.NoLimitAllocator
	if g.cfg.MaxAllocation > 0 {
		allocator = bytecode.NewBoundedAllocator(g.cfg.MaxAllocation)
	}

	failed := false
	for _, path := range opts.files {
		verdict, err := verifyFile(ctx, cache, allocator, g.cfg.MaxDepth, path)
		if err != nil {
			failed = true
			if !opts.quiet {
				fmt.Printf("%s: REJECTED: %v\n", path, err)
			}
			continue
		}
		if !opts.quiet {
			if verdict.Cached {
				fmt.Printf("%s: OK (cached)\n", path)
			} else {
				fmt.Printf("%s: OK\n", path)
			}
		}
	}
	if failed {
		return fmt.Errorf("one or more chunks failed verification")
	}
	return nil
}

type fileVerdict struct {
	Cached bool
}

func verifyFile(ctx context.Context, cache *verifycache.Cache, allocator bytecode.Allocator, maxDepth int, path string) (fileVerdict, error) {
	f, err := openInput(path)
	if err != nil {
		return fileVerdict{}, err
	}
	defer f.Close()

	data, sum, err := verifycache.ReadAndHash(f)
	if err != nil {
		return fileVerdict{}, err
	}

	if cache != nil {
		if verdict, ok, err := cache.Lookup(ctx, sum); err != nil {
			return fileVerdict{}, fmt.Errorf("consult cache: %w", err)
		} else if ok {
			if !verdict.Accepted {
				return fileVerdict{}, fmt.Errorf("%s", verdict.Reason)
			}
			return fileVerdict{Cached: true}, nil
		}
	}

	proto, err := bytecode.DecodeAll(bytes.NewReader(data), allocator, maxDepth)
	if err != nil {
		if cache != nil {
			_ = cache.Store(ctx, sum, verifycache.Verdict{Accepted: false, Reason: err.Error()})
		}
		return fileVerdict{}, err
	}
	if err := verify.Verify(proto); err != nil {
		if cache != nil {
			_ = cache.Store(ctx, sum, verifycache.Verdict{Accepted: false, Reason: err.Error()})
		}
		return fileVerdict{}, err
	}

	if cache != nil {
		_ = cache.Store(ctx, sum, verifycache.Verdict{Accepted: true})
	}
	return fileVerdict{}, nil
}
