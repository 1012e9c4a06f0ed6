package model

import "errors"

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("poll not found")
	ErrPollNotActive = errors.New("no active poll")
	ErrInvalidOption = errors.New("invalid option")
	ErrDuplicateVote = errors.New("already voted")
	ErrPollCorrupted = errors.New("poll state corrupted")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidInput, "InvalidInput"},
	{ErrNotFound, "NotFound"},
	{ErrPollNotActive, "PollNotActive"},
	{ErrInvalidOption, "InvalidOption"},
	{ErrDuplicateVote, "DuplicateVote"},
	{ErrPollCorrupted, "PollCorrupted"},
}

// ErrorKind maps a (possibly wrapped) error to its taxonomy name.
// Unknown errors report "Internal".
func ErrorKind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}
