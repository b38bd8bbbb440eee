package core

import "errors"

var (
	ErrInvalidAction = errors.New("invalid action")
	ErrEpisodeOver   = errors.New("episode is over")
	ErrInvalidLayout = errors.New("invalid layout")
	ErrOutOfBounds   = errors.New("coordinate out of bounds")
)
