package source

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/julianstephens/blockid/internal/logger"
)

const badgerKeyPrefix = "seq/"

// Badger keeps sequences in a badger database. Each reservation is a
// read-modify-write transaction; a losing concurrent writer gets
// ErrConflict and may retry.
type Badger struct {
	db     *badger.DB
	path   string
	key    []byte
	logger logger.Logger
}

var _ Store = (*Badger)(nil)

// badgerLogger routes badger's internal logging to a logger.Logger.
type badgerLogger struct {
	lg logger.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.lg.Error("badger", fmt.Errorf(strings.TrimSpace(format), args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.lg.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.lg.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.lg.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func badgerOptions(dir string, lg logger.Logger) badger.Options {
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{lg: logger.OrNoOp(lg)}).
		WithLoggingLevel(badger.WARNING)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	return opts
}

func openBadgerDB(opts badger.Options) (*badger.DB, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &SourceError{Kind: ErrorKindOpen, Store: KindBadger, Path: opts.Dir, Err: err}
	}
	return db, nil
}

// InitBadger creates the named sequence in the database at dir.
func InitBadger(dir, name string, start uint64) error {
	db, err := openBadgerDB(badgerOptions(dir, nil))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return initBadgerSequence(db, dir, name, start)
}

func initBadgerSequence(db *badger.DB, dir, name string, start uint64) error {
	key := []byte(badgerKeyPrefix + name)
	return db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		switch {
		case err == nil:
			return &SourceError{
				Kind:  ErrorKindAlreadyExists,
				Store: KindBadger,
				Path:  dir,
				Err:   fmt.Errorf("sequence %q already exists", name),
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return &SourceError{Kind: ErrorKindDecode, Store: KindBadger, Path: dir, Err: err}
		}
		return setBadgerCounter(txn, key, start, dir)
	})
}

// OpenBadger opens the database at dir and checks that it holds name.
func OpenBadger(dir, name string, lg logger.Logger) (*Badger, error) {
	db, err := openBadgerDB(badgerOptions(dir, lg))
	if err != nil {
		return nil, err
	}
	return newBadger(db, dir, name, lg)
}

func newBadger(db *badger.DB, dir, name string, lg logger.Logger) (*Badger, error) {
	s := &Badger{
		db:     db,
		path:   dir,
		key:    []byte(badgerKeyPrefix + name),
		logger: logger.OrNoOp(lg),
	}
	if _, err := s.Peek(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Debug("opened badger sequence", "path", dir, "name", name)
	return s, nil
}

func (s *Badger) NextBlockStart(ctx context.Context, blockSize uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var hi uint64
	err := s.db.Update(func(txn *badger.Txn) error {
		next, err := s.counter(txn)
		if err != nil {
			return err
		}
		after, err := advance(KindBadger, s.name(), next, blockSize)
		if err != nil {
			return err
		}
		hi = next
		return setBadgerCounter(txn, s.key, after, s.path)
	})
	if err != nil {
		return 0, s.wrap(err)
	}
	return hi, nil
}

func (s *Badger) Peek() (uint64, error) {
	var next uint64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		next, err = s.counter(txn)
		return err
	})
	if err != nil {
		return 0, s.wrap(err)
	}
	return next, nil
}

func (s *Badger) Close() error {
	if err := s.db.Close(); err != nil {
		return &SourceError{Kind: ErrorKindWrite, Store: KindBadger, Path: s.path, Err: err}
	}
	return nil
}

func (s *Badger) name() string {
	return strings.TrimPrefix(string(s.key), badgerKeyPrefix)
}

func (s *Badger) counter(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(s.key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, &SourceError{
			Kind:  ErrorKindNotFound,
			Store: KindBadger,
			Path:  s.path,
			Err:   fmt.Errorf("no sequence named %q", s.name()),
		}
	}
	if err != nil {
		return 0, err
	}
	var next uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return &SourceError{
				Kind:  ErrorKindCorrupted,
				Store: KindBadger,
				Path:  s.path,
				Err:   fmt.Errorf("counter is %d bytes, want 8", len(val)),
			}
		}
		next = binary.BigEndian.Uint64(val)
		return nil
	})
	return next, err
}

func (s *Badger) wrap(err error) error {
	var se *SourceError
	switch {
	case errors.As(err, &se):
		return err
	case errors.Is(err, badger.ErrConflict):
		return &SourceError{Kind: ErrorKindConflict, Store: KindBadger, Path: s.path, Err: err}
	case errors.Is(err, badger.ErrDBClosed):
		return &SourceError{Kind: ErrorKindClosed, Store: KindBadger, Path: s.path, Err: err}
	default:
		return &SourceError{Kind: ErrorKindWrite, Store: KindBadger, Path: s.path, Err: err}
	}
}

func setBadgerCounter(txn *badger.Txn, key []byte, v uint64, dir string) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	if err := txn.Set(key, buf); err != nil {
		return &SourceError{Kind: ErrorKindWrite, Store: KindBadger, Path: dir, Err: err}
	}
	return nil
}
