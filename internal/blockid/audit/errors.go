package audit

import "errors"

var (
	ErrDuplicate   = errors.New("audit: identifier handed out twice")
	ErrTooManyGaps = errors.New("audit: gaps exceed allowed slack")
)
