// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package config loads the verifier's optional configuration file, an
// hjson-flavored JSON document merged on top of environment variables and
// hard-coded defaults.
package config

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/tailscale/hujson"
	"go4.org/xdgdir"
)

// Config is the verifier's merged configuration: hard-coded defaults,
// overridden by environment variables, overridden by config file contents,
// in that order (MergeEnvironment then MergeFiles).
type Config struct {
	// Debug enables verbose logging in commands that consult Config.
	Debug bool `json:"debug"`
	// MaxDepth bounds prototype nesting during decode, per
	// bytecode.DefaultMaxDepth if zero.
	MaxDepth int `json:"maxDepth"`
	// MaxAllocation bounds the decode session's total byte allocation;
	// zero means unbounded.
	MaxAllocation int64 `json:"maxAllocation"`
	// CacheDB is the path to the verdict cache database. Empty disables
	// caching.
	CacheDB string `json:"cacheDB"`
	// ListenAddress is the address the "serve" subcommand binds to when
	// not socket-activated.
	ListenAddress string `json:"listenAddress"`
}

// Default returns the built-in configuration before environment or file
// overrides are applied.
func Default() *Config {
	return &Config{
		MaxDepth:      200,
		CacheDB:       defaultCacheDB(),
		ListenAddress: "localhost:8080",
	}
}

func defaultCacheDB() string {
	dir := xdgdir.Cache.Path()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "lbcv", "verdicts.db")
}

// MergeEnvironment overlays recognized LBCV_* environment variables onto c.
func (c *Config) MergeEnvironment() error {
	if v := os.Getenv("LBCV_CACHE_DB"); v != "" {
		c.CacheDB = v
	}
	if v := os.Getenv("LBCV_LISTEN_ADDRESS"); v != "" {
		c.ListenAddress = v
	}
	if v := os.Getenv("LBCV_DEBUG"); v != "" {
		c.Debug = v != "0" && v != "false"
	}
	return nil
}

// MergeFiles reads each path in order as hjson (JSON with comments and
// trailing commas, standardized via [hujson.Standardize]) and merges its
// fields into c. A missing file is silently skipped; any other read or
// parse error is returned immediately.
func (c *Config) MergeFiles(paths iter.Seq[string]) error {
	for path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		std, err := hujson.Standardize(raw)
		if err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
		if err := jsonv2.Unmarshal(std, c, jsonv2.RejectUnknownMembers(false)); err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
	}
	return nil
}

// UnmarshalJSONFrom implements a merging unmarshaler: unlike the default
// behavior of encoding/json-style decoders, each recognized field
// overwrites the previous value but unrecognized fields are tolerated
// unless the decoder's RejectUnknownMembers option is set.
func (c *Config) UnmarshalJSONFrom(in *jsontext.Decoder) error {
	tok, err := in.ReadToken()
	if err != nil {
		return err
	}
	if got := tok.Kind(); got != '{' {
		return fmt.Errorf("config must be an object not a %v", got)
	}

	for {
		keyToken, err := in.ReadToken()
		if err != nil {
			return err
		}
		switch kind := keyToken.Kind(); kind {
		case '}':
			return nil
		case '"':
		default:
			return fmt.Errorf("unexpected non-string key (%v) in object", kind)
		}

		switch k := keyToken.String(); k {
		case "debug":
			if err := jsonv2.UnmarshalDecode(in, &c.Debug); err != nil {
				return fmt.Errorf("unmarshal config.debug: %w", err)
			}
		case "maxDepth":
			if err := jsonv2.UnmarshalDecode(in, &c.MaxDepth); err != nil {
				return fmt.Errorf("unmarshal config.maxDepth: %w", err)
			}
		case "maxAllocation":
			if err := jsonv2.UnmarshalDecode(in, &c.MaxAllocation); err != nil {
				return fmt.Errorf("unmarshal config.maxAllocation: %w", err)
			}
		case "cacheDB":
			if err := jsonv2.UnmarshalDecode(in, &c.CacheDB); err != nil {
				return fmt.Errorf("unmarshal config.cacheDB: %w", err)
			}
		case "listenAddress":
			if err := jsonv2.UnmarshalDecode(in, &c.ListenAddress); err != nil {
				return fmt.Errorf("unmarshal config.listenAddress: %w", err)
			}
		default:
			if reject, _ := jsonv2.GetOption(in.Options(), jsonv2.RejectUnknownMembers); reject {
				return fmt.Errorf("unmarshal config: unknown field %q", k)
			}
			if err := in.SkipValue(); err != nil {
				return err
			}
		}
	}
}

// Validate checks that c is internally consistent.
func (c *Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("maxDepth must not be negative")
	}
	if c.MaxAllocation < 0 {
		return fmt.Errorf("maxAllocation must not be negative")
	}
	return nil
}

// SearchPaths returns the default config file locations, in the order
// they should be merged (later entries override earlier ones): a
// system-wide file followed by the XDG user config file.
func SearchPaths() iter.Seq[string] {
	return func(yield func(string) bool) {
		if !yield(filepath.Join(string(filepath.Separator), "etc", "lbcv.jsonc")) {
			return
		}
		if dir := xdgdir.Config.Path(); dir != "" {
			yield(filepath.Join(dir, "lbcv", "config.jsonc"))
		}
	}
}
