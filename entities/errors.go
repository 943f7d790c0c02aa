package entities

import "errors"

var ErrStoreEntityNotFound = errors.New("store resource not found")

// ErrTimingDrift signals a slot/epoch misconfiguration. It is fatal: the
// process must be restarted with a corrected epoch start.
var ErrTimingDrift = errors.New("slot timing drift detected")

var ErrQuorumNotReached = errors.New("quorum not reached")
var ErrSignatureVerification = errors.New("signature verification failed")
var ErrUnknownParticipant = errors.New("unknown participant")
var ErrSerialization = errors.New("payload serialization failed")
var ErrUnknownTask = errors.New("unknown task")
