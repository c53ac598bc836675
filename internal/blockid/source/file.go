package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/julianstephens/go-utils/helpers"
	"github.com/julianstephens/go-utils/jsonutil"

	"github.com/julianstephens/blockid/internal/blockid"
	"github.com/julianstephens/blockid/internal/logger"
)

const lockRetryDelay = 10 * time.Millisecond

// SequenceFile is the on-disk form of a file-backed sequence.
type SequenceFile struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
	Next    uint64 `json:"next"`
}

// File keeps a sequence in a JSON file. Every reservation takes an exclusive
// OS lock on a sibling lock file, so several processes may share one
// sequence file.
type File struct {
	path   string
	name   string
	lock   *flock.Flock
	logger logger.Logger

	// mu serialises callers within this process; flock treats a second
	// TryLock from the same handle as already held.
	mu     sync.Mutex
	closed bool
}

var _ Store = (*File)(nil)

// InitFile creates a sequence file at path whose first block starts at
// start.
func InitFile(path, name string, start uint64) error {
	if err := helpers.Ensure(filepath.Dir(path), true); err != nil {
		return &SourceError{Kind: ErrorKindWrite, Store: KindFile, Path: path, Err: err}
	}
	if helpers.Exists(path) {
		return &SourceError{
			Kind:  ErrorKindAlreadyExists,
			Store: KindFile,
			Path:  path,
			Err:   fmt.Errorf("sequence file already exists at %s", path),
		}
	}
	return writeSequenceFile(path, &SequenceFile{
		Version: blockid.SequenceFileVersion,
		Name:    name,
		Next:    start,
	})
}

// OpenFile opens an existing sequence file and checks that it holds name.
func OpenFile(path, name string, lg logger.Logger) (*File, error) {
	if !helpers.Exists(path) {
		return nil, &SourceError{Kind: ErrorKindNotFound, Store: KindFile, Path: path, Err: fs.ErrNotExist}
	}
	if _, err := readSequenceFile(path, name); err != nil {
		return nil, err
	}
	lg = logger.OrNoOp(lg)
	lg.Debug("opened sequence file", "path", path, "name", name)
	return &File{
		path:   path,
		name:   name,
		lock:   flock.New(path + ".lock"),
		logger: lg,
	}, nil
}

func (f *File) NextBlockStart(ctx context.Context, blockSize uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, &SourceError{Kind: ErrorKindClosed, Store: KindFile, Path: f.path}
	}

	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, &SourceError{Kind: ErrorKindLocked, Store: KindFile, Path: f.lock.Path(), Err: err}
	}
	if !locked {
		return 0, &SourceError{Kind: ErrorKindLocked, Store: KindFile, Path: f.lock.Path()}
	}
	defer func() {
		if err := f.lock.Unlock(); err != nil {
			f.logger.Error("failed to release sequence lock", err, "path", f.lock.Path())
		}
	}()

	seq, err := readSequenceFile(f.path, f.name)
	if err != nil {
		return 0, err
	}
	after, err := advance(KindFile, f.name, seq.Next, blockSize)
	if err != nil {
		return 0, err
	}
	hi := seq.Next
	seq.Next = after
	if err := writeSequenceFile(f.path, seq); err != nil {
		return 0, err
	}
	return hi, nil
}

func (f *File) Peek() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, &SourceError{Kind: ErrorKindClosed, Store: KindFile, Path: f.path}
	}
	seq, err := readSequenceFile(f.path, f.name)
	if err != nil {
		return 0, err
	}
	return seq.Next, nil
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if err := f.lock.Close(); err != nil {
		return &SourceError{Kind: ErrorKindWrite, Store: KindFile, Path: f.lock.Path(), Err: err}
	}
	return nil
}

func readSequenceFile(path, name string) (*SequenceFile, error) {
	seq := &SequenceFile{}
	if err := jsonutil.ReadFileStrict(path, seq); err != nil {
		return nil, &SourceError{Kind: ErrorKindDecode, Store: KindFile, Path: path, Err: err}
	}
	if seq.Version > blockid.SequenceFileVersion {
		return nil, &SourceError{
			Kind:  ErrorKindUnsupportedVersion,
			Store: KindFile,
			Path:  path,
			Err:   fmt.Errorf("sequence file version %d is not supported", seq.Version),
		}
	}
	if seq.Version < 1 {
		return nil, &SourceError{
			Kind:  ErrorKindCorrupted,
			Store: KindFile,
			Path:  path,
			Err:   fmt.Errorf("missing sequence file version"),
		}
	}
	if seq.Name != name {
		return nil, &SourceError{
			Kind:  ErrorKindNameMismatch,
			Store: KindFile,
			Path:  path,
			Err:   fmt.Errorf("file holds %q, want %q", seq.Name, name),
		}
	}
	return seq, nil
}

func writeSequenceFile(path string, seq *SequenceFile) error {
	data, err := jsonutil.Marshal(seq)
	if err != nil {
		return &SourceError{Kind: ErrorKindEncode, Store: KindFile, Path: path, Err: err}
	}
	if err := helpers.AtomicFileWrite(path, data); err != nil {
		return &SourceError{Kind: ErrorKindWrite, Store: KindFile, Path: path, Err: err}
	}
	dir, err := os.Open(filepath.Dir(path)) //nolint:gosec
	if err != nil {
		return &SourceError{Kind: ErrorKindWrite, Store: KindFile, Path: path, Err: err}
	}
	defer func() { _ = dir.Close() }()

	if err := dir.Sync(); err != nil {
		return &SourceError{Kind: ErrorKindWrite, Store: KindFile, Path: path, Err: err}
	}
	return nil
}
