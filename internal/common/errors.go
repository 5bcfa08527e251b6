// Package common holds sentinel errors shared across components.
package common

import "errors"

// ErrPermanent marks failures that retrying cannot fix: unparseable
// payloads and invariant violations such as a missing parent folder.
// Consumers route messages carrying this error straight to the
// dead-letter topic without consuming their retry budget.
var ErrPermanent = errors.New("permanent failure")

// ErrNotFound is returned when a referenced catalog row does not exist.
var ErrNotFound = errors.New("not found")
