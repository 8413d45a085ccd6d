package db

import (
	"errors"
)

var (
	// ErrConflict is returned by Reserve when another pending or active
	// row already holds the subdomain.
	ErrConflict = errors.New("already taken")

	// ErrNotFound is returned when no matching row exists.
	ErrNotFound = errors.New("not found")
)

type Database interface {
	// Reserve atomically claims a subdomain with a pending row. The unique
	// index on ActiveKey is the sole serialization point: among concurrent
	// reservations for one name, exactly one insert succeeds.
	Reserve(subdomain string) error

	// Finalize promotes the pending row to active and fills in the tunnel
	// details. Returns the stored row.
	Finalize(rec Tunnel) (Tunnel, error)

	// Release hard-deletes a pending reservation that never became a
	// record (its create saga failed).
	Release(subdomain string) error

	// FindActive returns the active row for the subdomain, or nil.
	FindActive(subdomain string) (*Tunnel, error)

	// Find returns the newest non-pending row for the subdomain, or nil.
	Find(subdomain string) (*Tunnel, error)

	// SoftDelete marks the active row deleted and frees the name.
	SoftDelete(subdomain string) (*Tunnel, error)

	// List returns non-pending rows, newest first.
	List(statusFilter string, limit int) ([]Tunnel, error)

	// LiveSubdomains returns the set of names with a pending or active row.
	LiveSubdomains() (map[string]bool, error)
}
