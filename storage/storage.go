/*
Package storage provides the blob-backed stores used for tile sources and archive
destinations.  A Store wraps a gocloud.dev bucket so the same code can read dat tiles
from, and write archives to, a local directory (file://), an in-memory bucket (mem://)
or any other bucket driver linked into the binary.

Archive objects are written through AtomicWriter: the object only becomes visible
when Commit succeeds, so a process killed mid-write never leaves a partial archive
under the final key.
*/
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/janelia-flyem/emtile/emtile"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

var (
	// ErrNotFound is returned when a key does not exist in a store.
	ErrNotFound = errors.New("storage: key not found")

	// ErrExists is returned when a create-once write targets an existing key.
	ErrExists = errors.New("storage: key already exists")
)

// Store is a keyed object store backed by a gocloud bucket.
type Store struct {
	ref    string
	bucket *blob.Bucket
}

// Open returns a Store for ref, which may be "mem://", a "file://" URL, a plain
// directory path, or any URL understood by a registered gocloud bucket driver.
// Local directories are created if necessary.
func Open(ctx context.Context, ref string) (*Store, error) {
	switch {
	case ref == "":
		return nil, fmt.Errorf("no store location given")
	case strings.HasPrefix(ref, "mem://"):
		return NewMemStore(), nil
	case strings.HasPrefix(ref, "file://"):
		return openDir(strings.TrimPrefix(ref, "file://"))
	case !strings.Contains(ref, "://"):
		return openDir(ref)
	}
	bucket, err := blob.OpenBucket(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("can't open bucket %q: %w", ref, err)
	}
	emtile.Infof("Opened store @ %q\n", ref)
	return &Store{ref: ref, bucket: bucket}, nil
}

func openDir(dir string) (*Store, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return nil, fmt.Errorf("can't create store directory %q: %w", absDir, err)
	}
	bucket, err := fileblob.OpenBucket(absDir, nil)
	if err != nil {
		return nil, fmt.Errorf("can't open directory store %q: %w", absDir, err)
	}
	emtile.Infof("Opened directory store @ %q\n", absDir)
	return &Store{ref: "file://" + absDir, bucket: bucket}, nil
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *Store {
	return &Store{ref: "mem://", bucket: memblob.OpenBucket(nil)}
}

func (s *Store) String() string {
	return s.ref
}

// Close releases the underlying bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

func translateErr(key string, err error) error {
	if err == nil {
		return nil
	}
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	return fmt.Errorf("%q: %w", key, err)
}

// List returns the sorted keys under prefix that end with suffix.
func (s *Store) List(ctx context.Context, prefix, suffix string) ([]string, error) {
	var keys []string
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing %q in %s: %w", prefix, s.ref, err)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, suffix) {
			continue
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists returns true if key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// Size returns the byte length of the object at key.
func (s *Store) Size(ctx context.Context, key string) (int64, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		return 0, translateErr(key, err)
	}
	return attrs.Size, nil
}

// ReadAll returns the full contents of key.
func (s *Store) ReadAll(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, translateErr(key, err)
	}
	return data, nil
}

// ReadRange returns up to length bytes of key starting at offset.  Fewer bytes are
// returned if the object ends first.
func (s *Store) ReadRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	r, err := s.bucket.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		return nil, translateErr(key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %q [%d:+%d]: %w", key, offset, length, err)
	}
	return data, nil
}

// Delete removes key from the store.
func (s *Store) Delete(ctx context.Context, key string) error {
	return translateErr(key, s.bucket.Delete(ctx, key))
}

// Put writes data to key atomically.  If overwrite is false and key already
// exists, ErrExists is returned.
func (s *Store) Put(ctx context.Context, key string, data []byte, overwrite bool) error {
	w, err := s.NewAtomicWriter(ctx, key, overwrite)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return err
	}
	return w.Commit()
}

// AtomicWriter streams an object that only appears under its key on Commit.
type AtomicWriter struct {
	key     string
	w       *blob.Writer
	cancel  context.CancelFunc
	written int64
	done    bool
}

// NewAtomicWriter opens a create-once writer for key.
func (s *Store) NewAtomicWriter(ctx context.Context, key string, overwrite bool) (*AtomicWriter, error) {
	if !overwrite {
		exists, err := s.bucket.Exists(ctx, key)
		if err != nil {
			return nil, translateErr(key, err)
		}
		if exists {
			return nil, fmt.Errorf("%q in %s: %w", key, s.ref, ErrExists)
		}
	}
	wctx, cancel := context.WithCancel(ctx)
	w, err := s.bucket.NewWriter(wctx, key, nil)
	if err != nil {
		cancel()
		return nil, translateErr(key, err)
	}
	return &AtomicWriter{key: key, w: w, cancel: cancel}, nil
}

func (a *AtomicWriter) Write(p []byte) (int, error) {
	if a.done {
		return 0, fmt.Errorf("write to %q after commit or abort", a.key)
	}
	n, err := a.w.Write(p)
	a.written += int64(n)
	return n, err
}

// Written returns the number of bytes written so far.
func (a *AtomicWriter) Written() int64 {
	return a.written
}

// Commit makes the object visible under its key.
func (a *AtomicWriter) Commit() error {
	if a.done {
		return fmt.Errorf("commit of %q after commit or abort", a.key)
	}
	a.done = true
	defer a.cancel()
	if err := a.w.Close(); err != nil {
		return fmt.Errorf("committing %q: %w", a.key, err)
	}
	emtile.Debugf("Committed %q (%s)\n", a.key, emtile.ByteSize(a.written))
	return nil
}

// Abort discards everything written.  It is safe to call after Commit.
func (a *AtomicWriter) Abort() {
	if a.done {
		return
	}
	a.done = true
	a.cancel()
	a.w.Close()
}

// Object is a random-access view of one stored object.  Each ReadAt is a ranged read,
// so only the regions actually needed are fetched.
type Object struct {
	ctx   context.Context
	store *Store
	key   string
	size  int64
}

// Object returns a random-access view of key.
func (s *Store) Object(ctx context.Context, key string) (*Object, error) {
	size, err := s.Size(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Object{ctx: ctx, store: s, key: key, size: size}, nil
}

// Key returns the object's key.
func (o *Object) Key() string {
	return o.key
}

// Size returns the object's size in bytes.
func (o *Object) Size() int64 {
	return o.size
}

// ReadAt implements io.ReaderAt.
func (o *Object) ReadAt(p []byte, off int64) (int, error) {
	if off >= o.size {
		return 0, io.EOF
	}
	r, err := o.store.bucket.NewRangeReader(o.ctx, o.key, off, int64(len(p)), nil)
	if err != nil {
		return 0, translateErr(o.key, err)
	}
	defer r.Close()
	n, err := io.ReadFull(r, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}
