// Package repository holds the MySQL data access code.  Sentinel errors
// let the service layer tell "not there" and "already taken" apart from
// driver failures.
package repository

import "errors"

// ErrNotFound is returned when no row matches a lookup or update.
var ErrNotFound = errors.New("not found")

// ErrUserExists is returned by Create when the email or username is
// already registered.
var ErrUserExists = errors.New("user already exists")
