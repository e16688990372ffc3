// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMergeFilesAppliesHuJSONOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lbcv.jsonc")
	const doc = `{
		// trailing commas and comments are fine
		"cacheDB": "/var/cache/lbcv/verdicts.db",
		"maxDepth": 64,
	}`
	if err := os.WriteFile(path, []byte(doc), 0o666); err != nil {
		t.Fatal(err)
	}

	c := Default()
	if err := c.MergeFiles(func(yield func(string) bool) { yield(path) }); err != nil {
		t.Fatalf("MergeFiles: %v", err)
	}
	if c.CacheDB != "/var/cache/lbcv/verdicts.db" {
		t.Errorf("CacheDB = %q; want override applied", c.CacheDB)
	}
	if c.MaxDepth != 64 {
		t.Errorf("MaxDepth = %d; want 64", c.MaxDepth)
	}
}

func TestMergeFilesSkipsMissingFiles(t *testing.T) {
	c := Default()
	before := *c
	if err := c.MergeFiles(func(yield func(string) bool) { yield("/nonexistent/lbcv.jsonc") }); err != nil {
		t.Fatalf("MergeFiles(missing) = %v; want nil", err)
	}
	if *c != before {
		t.Error("MergeFiles(missing) modified the config")
	}
}

func TestMergeFilesRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lbcv.jsonc")
	if err := os.WriteFile(path, []byte("not an object"), 0o666); err != nil {
		t.Fatal(err)
	}
	c := Default()
	if err := c.MergeFiles(func(yield func(string) bool) { yield(path) }); err == nil {
		t.Error("MergeFiles(malformed) = nil; want error")
	}
}

func TestValidateRejectsNegativeFields(t *testing.T) {
	c := Default()
	c.MaxDepth = -1
	if err := c.Validate(); err == nil {
		t.Error("Validate(negative maxDepth) = nil; want error")
	}

	c = Default()
	c.MaxAllocation = -1
	if err := c.Validate(); err == nil {
		t.Error("Validate(negative maxAllocation) = nil; want error")
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Validate(Default()) = %v; want nil", err)
	}
}
