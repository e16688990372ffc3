// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package verifycache

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "verdicts.db")
	c, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return c
}

func TestLookupMiss(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	var sum [32]byte
	copy(sum[:], "nonexistent")

	_, ok, err := c.Lookup(ctx, sum)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Error("Lookup(unseen hash) = (_, true); want false")
	}
}

func TestStoreThenLookupAccepted(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	_, sum, err := ReadAndHash(strings.NewReader("accepted chunk"))
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Store(ctx, sum, Verdict{Accepted: true}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	verdict, ok, err := c.Lookup(ctx, sum)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatal("Lookup after Store = not found")
	}
	if !verdict.Accepted {
		t.Error("Lookup returned Accepted = false; want true")
	}
}

func TestStoreOverwritesPriorVerdict(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	_, sum, err := ReadAndHash(strings.NewReader("flip-flopping chunk"))
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Store(ctx, sum, Verdict{Accepted: false, Reason: "bad register"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Store(ctx, sum, Verdict{Accepted: true}); err != nil {
		t.Fatal(err)
	}
	verdict, ok, err := c.Lookup(ctx, sum)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !verdict.Accepted {
		t.Errorf("Lookup after overwrite = (%+v, %v); want accepted verdict", verdict, ok)
	}
}

func TestOpenLocksCachePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verdicts.db")
	c, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if _, err := Open(context.Background(), path); err == nil {
		t.Error("second Open of a locked cache path succeeded; want error")
	}
}

func TestReadAndHashIsDeterministic(t *testing.T) {
	_, sum1, err := ReadAndHash(strings.NewReader("same bytes"))
	if err != nil {
		t.Fatal(err)
	}
	_, sum2, err := ReadAndHash(strings.NewReader("same bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if sum1 != sum2 {
		t.Error("ReadAndHash produced different sums for identical input")
	}
}
