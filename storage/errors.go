package storage

import "errors"

var (
	ErrNotFound         = errors.New("storage: not found")
	ErrInvalidHash      = errors.New("storage: invalid hash")
	ErrHashMismatch     = errors.New("storage: hash mismatch")
	ErrImmutable        = errors.New("storage: immutable object mismatch")
	ErrInvalidSignature = errors.New("storage: invalid feed signature")
	ErrStaleUpdate      = errors.New("storage: stale feed update")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
