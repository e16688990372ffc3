// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package verifycli

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/dsnet/compress/bzip2"
)

// openInput opens path for reading, transparently decompressing it if
// its name ends in ".bz2" — bytecode is occasionally distributed
// pre-compressed, and luac.out.bz2 files show up often enough in corpora
// that callers expect this to just work.
func openInput(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".bz2") {
		return f, nil
	}
	bz, err := bzip2.NewReader(bufio.NewReader(f), &bzip2.ReaderConfig{})
	if err != nil {
		f.Close()
		return nil, err
	}
	return chainCloser{bz, f}, nil
}

// chainCloser reads from r and closes both r and the underlying file
// when done.
type chainCloser struct {
	io.Reader
	f *os.File
}

func (c chainCloser) Close() error {
	if closer, ok := c.Reader.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.f.Close()
			return err
		}
	}
	return c.f.Close()
}
