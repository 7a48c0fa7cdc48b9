package pipeline

import (
	"bufio"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/blake2b"

	"pcappuller/internal/errors"
)

// countingWriter tracks bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// publish writes src to dest, gzip-compressed when compress is set, through
// a temporary file in dest's directory that is renamed into place last.
func publish(src, dest string, compress bool) (Result, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, errors.Filesystem("create destination directory", err, true)
	}

	in, err := os.Open(src)
	if err != nil {
		return Result{}, errors.Filesystem("open final artifact", err, true)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dir, ".pcappuller-*.partial")
	if err != nil {
		return Result{}, errors.Filesystem("create destination file", err, true)
	}
	tmpPath := tmp.Name()
	fail := func(msg string, err error) (Result, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return Result{}, errors.Filesystem(msg, err, true)
	}

	hash, err := blake2b.New256(nil)
	if err != nil {
		return fail("initialise digest", err)
	}
	bw := bufio.NewWriter(tmp)
	counted := &countingWriter{w: io.MultiWriter(bw, hash)}

	if compress {
		zw := gzip.NewWriter(counted)
		zw.Name = filepath.Base(src)
		if _, err := io.Copy(zw, in); err != nil {
			return fail("compress artifact", err)
		}
		if err := zw.Close(); err != nil {
			return fail("compress artifact", err)
		}
	} else if _, err := io.Copy(counted, in); err != nil {
		return fail("copy artifact", err)
	}

	if err := bw.Flush(); err != nil {
		return fail("write destination", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync destination", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return Result{}, errors.Filesystem("close destination", err, true)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return Result{}, errors.Filesystem("set destination permissions", err, true)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return Result{}, errors.Filesystem("rename into destination", err, true)
	}

	return Result{
		Path:   dest,
		Bytes:  counted.n,
		Digest: hex.EncodeToString(hash.Sum(nil)),
	}, nil
}
