package domain

import "time"

// LockRecord is one held lease on a shared key.
// Ownership is proven by LockID equality, never by key presence.
type LockRecord struct {
	Key    string
	LockID string
	Holder string
	TTL    time.Duration
}
