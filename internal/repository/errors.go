// Package repository holds the MySQL data access for the kiosk registry,
// the animal catalog, issued tickets and archived sessions.  The sentinel
// values below let handlers map lookups to HTTP status codes.
package repository

import "errors"

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with an existing row,
// such as a second ticket for the same session.
var ErrConflict = errors.New("conflict")
