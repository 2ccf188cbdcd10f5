package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store holds immutable dump blobs. Put replaces a blob atomically: readers
// see the old or the new content, never a mix. Implementations must be safe
// for concurrent use.
type Store interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Put writes a blob atomically.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a data blob.
type Blob interface {
	io.ReaderAt
	io.Closer
	// Size returns the size of the blob in bytes.
	Size() int64
}

// Mappable is an optional interface for Blobs that support memory mapping.
type Mappable interface {
	// Bytes returns the underlying byte slice.
	// The slice is valid until the Blob is closed.
	// This is a zero-copy operation if supported.
	Bytes() ([]byte, error)
}

// ReadAll returns the whole content of name.
func ReadAll(ctx context.Context, s Store, name string) ([]byte, error) {
	b, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	if m, ok := b.(Mappable); ok {
		data, err := m.Bytes()
		if err == nil {
			return append([]byte(nil), data...), nil
		}
	}

	buf := make([]byte, b.Size())
	n, err := b.ReadAt(buf, 0)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return nil, err
	}
	if n != len(buf) {
		return nil, fmt.Errorf("blobstore: short read of %s: %d of %d bytes", name, n, len(buf))
	}
	return buf, nil
}

// CommonName is the name of the common dump.
const CommonName = "common.sdb"

// BlockName returns the name of the dump of block idx of type typ.
func BlockName(typ uint16, idx uint32) string {
	return "t" + strconv.FormatUint(uint64(typ), 10) + "/b" + strconv.FormatUint(uint64(idx), 10) + ".sdb"
}

// TypePrefix returns the prefix shared by every block dump of typ.
func TypePrefix(typ uint16) string {
	return "t" + strconv.FormatUint(uint64(typ), 10) + "/"
}

// ParseBlockName is the inverse of BlockName.
func ParseBlockName(name string) (typ uint16, idx uint32, ok bool) {
	rest, found := strings.CutPrefix(name, "t")
	if !found {
		return 0, 0, false
	}
	ts, bs, found := strings.Cut(rest, "/b")
	if !found {
		return 0, 0, false
	}
	bs, found = strings.CutSuffix(bs, ".sdb")
	if !found {
		return 0, 0, false
	}
	t, err := strconv.ParseUint(ts, 10, 16)
	if err != nil {
		return 0, 0, false
	}
	b, err := strconv.ParseUint(bs, 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint16(t), uint32(b), true
}
