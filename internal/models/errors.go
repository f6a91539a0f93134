package models

import "errors"

var ErrNotFound = errors.New("requested resource not found")
var ErrForbidden = errors.New("courier does not have permission to access this resource")
var ErrConflict = errors.New("resource conflict, state changed since it was read")
var ErrInvalidInput = errors.New("invalid input")
var ErrUnavailable = errors.New("external dependency unavailable")

// ErrVersionMismatch is returned by the cache repository when a versioned
// write loses an optimistic-concurrency race. It never leaves the cache
// manager: the loser recomputes against the fresh pool instead.
var ErrVersionMismatch = errors.New("cache version changed since read")

// ErrCandidateExpired indicates that the candidate route a courier tried to
// claim is no longer present in their cache (regenerated or expired).
var ErrCandidateExpired = errors.New("candidate route expired or regenerated")
