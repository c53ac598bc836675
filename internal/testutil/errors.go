package testutil

// Error is a distinct error value, used to check that a source failure
// reaches callers unchanged.
type Error struct {
	msg string
}

func (e *Error) Error() string {
	return e.msg
}

func NewError(msg string) *Error {
	return &Error{msg: msg}
}
