package source

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/julianstephens/go-utils/helpers"
	bolt "go.etcd.io/bbolt"

	"github.com/julianstephens/blockid/internal/logger"
)

var sequenceBucket = []byte("sequences")

// Bolt keeps sequences in a bbolt database, one big-endian uint64 per name.
// bbolt holds an exclusive file lock, so only one process may open it.
type Bolt struct {
	db     *bolt.DB
	path   string
	key    []byte
	logger logger.Logger
}

var _ Store = (*Bolt)(nil)

func openBoltDB(path string) (*bolt.DB, error) {
	if err := helpers.Ensure(filepath.Dir(path), true); err != nil {
		return nil, &SourceError{Kind: ErrorKindOpen, Store: KindBolt, Path: path, Err: err}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, &SourceError{Kind: ErrorKindOpen, Store: KindBolt, Path: path, Err: err}
	}
	return db, nil
}

// InitBolt creates the named sequence in the database at path, creating
// the database if needed.
func InitBolt(path, name string, start uint64) error {
	db, err := openBoltDB(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(sequenceBucket)
		if err != nil {
			return &SourceError{Kind: ErrorKindWrite, Store: KindBolt, Path: path, Err: err}
		}
		if b.Get([]byte(name)) != nil {
			return &SourceError{
				Kind:  ErrorKindAlreadyExists,
				Store: KindBolt,
				Path:  path,
				Err:   fmt.Errorf("sequence %q already exists", name),
			}
		}
		return putCounter(b, []byte(name), start, path)
	})
}

// OpenBolt opens the database at path and checks that it holds name.
func OpenBolt(path, name string, lg logger.Logger) (*Bolt, error) {
	if !helpers.Exists(path) {
		return nil, &SourceError{Kind: ErrorKindNotFound, Store: KindBolt, Path: path}
	}
	db, err := openBoltDB(path)
	if err != nil {
		return nil, err
	}
	s := &Bolt{db: db, path: path, key: []byte(name), logger: logger.OrNoOp(lg)}
	if _, err := s.Peek(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Debug("opened bolt sequence", "path", path, "name", name)
	return s, nil
}

func (s *Bolt) NextBlockStart(ctx context.Context, blockSize uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var hi uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, next, err := s.counter(tx)
		if err != nil {
			return err
		}
		after, err := advance(KindBolt, string(s.key), next, blockSize)
		if err != nil {
			return err
		}
		hi = next
		return putCounter(b, s.key, after, s.path)
	})
	if err != nil {
		return 0, s.wrap(err)
	}
	return hi, nil
}

func (s *Bolt) Peek() (uint64, error) {
	var next uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		_, next, err = s.counter(tx)
		return err
	})
	if err != nil {
		return 0, s.wrap(err)
	}
	return next, nil
}

func (s *Bolt) Close() error {
	if err := s.db.Close(); err != nil {
		return &SourceError{Kind: ErrorKindWrite, Store: KindBolt, Path: s.path, Err: err}
	}
	return nil
}

func (s *Bolt) counter(tx *bolt.Tx) (*bolt.Bucket, uint64, error) {
	b := tx.Bucket(sequenceBucket)
	if b == nil {
		return nil, 0, &SourceError{Kind: ErrorKindNotFound, Store: KindBolt, Path: s.path}
	}
	v := b.Get(s.key)
	if v == nil {
		return nil, 0, &SourceError{
			Kind:  ErrorKindNotFound,
			Store: KindBolt,
			Path:  s.path,
			Err:   fmt.Errorf("no sequence named %q", s.key),
		}
	}
	if len(v) != 8 {
		return nil, 0, &SourceError{
			Kind:  ErrorKindCorrupted,
			Store: KindBolt,
			Path:  s.path,
			Err:   fmt.Errorf("counter is %d bytes, want 8", len(v)),
		}
	}
	return b, binary.BigEndian.Uint64(v), nil
}

// wrap turns bbolt's own errors into SourceErrors and leaves ours alone.
func (s *Bolt) wrap(err error) error {
	var se *SourceError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return &SourceError{Kind: ErrorKindClosed, Store: KindBolt, Path: s.path, Err: err}
	}
	return &SourceError{Kind: ErrorKindWrite, Store: KindBolt, Path: s.path, Err: err}
}

func putCounter(b *bolt.Bucket, key []byte, v uint64, path string) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	if err := b.Put(key, buf); err != nil {
		return &SourceError{Kind: ErrorKindWrite, Store: KindBolt, Path: path, Err: err}
	}
	return nil
}
