package source

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	ErrorKindOpen ErrorKind = iota + 1
	ErrorKindNotFound
	ErrorKindAlreadyExists
	ErrorKindCorrupted
	ErrorKindUnsupportedVersion
	ErrorKindNameMismatch
	ErrorKindExhausted
	ErrorKindLocked
	ErrorKindConflict
	ErrorKindEncode
	ErrorKindDecode
	ErrorKindWrite
	ErrorKindClosed
	ErrorKindUnknownStore
)

var kindNames = map[ErrorKind]string{
	ErrorKindOpen:               "open",
	ErrorKindNotFound:           "not found",
	ErrorKindAlreadyExists:      "already exists",
	ErrorKindCorrupted:          "corrupted",
	ErrorKindUnsupportedVersion: "unsupported version",
	ErrorKindNameMismatch:       "name mismatch",
	ErrorKindExhausted:          "exhausted",
	ErrorKindLocked:             "locked",
	ErrorKindConflict:           "conflict",
	ErrorKindEncode:             "encode",
	ErrorKindDecode:             "decode",
	ErrorKindWrite:              "write",
	ErrorKindClosed:             "closed",
	ErrorKindUnknownStore:       "unknown store",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var (
	ErrOpen               = errors.New("source: unable to open store")
	ErrNotFound           = errors.New("source: sequence not found")
	ErrAlreadyExists      = errors.New("source: sequence already exists")
	ErrCorrupted          = errors.New("source: sequence record corrupted")
	ErrUnsupportedVersion = errors.New("source: unsupported sequence file version")
	ErrNameMismatch       = errors.New("source: sequence name mismatch")
	ErrExhausted          = errors.New("source: identifier range exhausted")
	ErrLocked             = errors.New("source: unable to acquire store lock")
	ErrConflict           = errors.New("source: concurrent update conflict")
	ErrEncode             = errors.New("source: unable to encode sequence")
	ErrDecode             = errors.New("source: unable to decode sequence")
	ErrWrite              = errors.New("source: unable to write sequence")
	ErrClosed             = errors.New("source: store closed")
	ErrUnknownStore       = errors.New("source: unknown store kind")
)

// SourceError reports a counter store failure. errors.Is matches both the
// sentinel for Kind and the underlying cause.
type SourceError struct {
	Kind  ErrorKind
	Store string
	Path  string
	Err   error
}

func (e *SourceError) Error() string {
	msg := fmt.Sprintf("%s source error (%s)", e.Store, e.Kind)
	if e.Path != "" {
		msg += " at " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SourceError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *SourceError) sentinel() error {
	switch e.Kind {
	case ErrorKindOpen:
		return ErrOpen
	case ErrorKindNotFound:
		return ErrNotFound
	case ErrorKindAlreadyExists:
		return ErrAlreadyExists
	case ErrorKindCorrupted:
		return ErrCorrupted
	case ErrorKindUnsupportedVersion:
		return ErrUnsupportedVersion
	case ErrorKindNameMismatch:
		return ErrNameMismatch
	case ErrorKindExhausted:
		return ErrExhausted
	case ErrorKindLocked:
		return ErrLocked
	case ErrorKindConflict:
		return ErrConflict
	case ErrorKindEncode:
		return ErrEncode
	case ErrorKindDecode:
		return ErrDecode
	case ErrorKindWrite:
		return ErrWrite
	case ErrorKindClosed:
		return ErrClosed
	case ErrorKindUnknownStore:
		return ErrUnknownStore
	default:
		return nil
	}
}

// Permanent reports whether retrying the call cannot help.
func Permanent(err error) bool {
	for _, target := range []error{
		ErrNotFound,
		ErrCorrupted,
		ErrUnsupportedVersion,
		ErrNameMismatch,
		ErrExhausted,
		ErrClosed,
		ErrUnknownStore,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
