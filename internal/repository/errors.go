package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates an insert collided with the start_time
// uniqueness constraint; the caller should retry as an update.
var ErrConflict = errors.New("repository: conflict")
