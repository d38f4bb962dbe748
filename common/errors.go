package common

import "errors"

// Failure conditions surfaced to callers as syscall-style errors.
// Buffer-cache exhaustion and device I/O failure are not here: those are
// unrecoverable in a single-disk design and halt instead.
var (
	ErrNotFound      = errors.New("no such file or directory")
	ErrNotADirectory = errors.New("not a directory")
	ErrNameTooLong   = errors.New("file name too long")
	ErrFileTooLarge  = errors.New("file too large")
	ErrNoSpace       = errors.New("no space left on device")
	ErrNoInodes      = errors.New("no free inodes on device")
	ErrExists        = errors.New("file exists")
	ErrIsADirectory  = errors.New("is a directory")
	ErrBadOffset     = errors.New("offset past end of file")
	ErrNotEmpty      = errors.New("directory not empty")
)
