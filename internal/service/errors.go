package service

import "errors"

// ErrValidation marks a request rejected before any storage mutation; no
// side effects have occurred when it is returned.
var ErrValidation = errors.New("validation failed")

// ErrNotFound is reported uniformly for records that are absent and records
// owned by someone else, so existence cannot be probed.
var ErrNotFound = errors.New("not found")
