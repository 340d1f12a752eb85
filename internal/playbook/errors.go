package playbook

import "errors"

// Sentinel errors for the playbook store. Callers match with errors.Is.
var (
	// ErrBulletNotFound is returned when a bullet id cannot be resolved.
	ErrBulletNotFound = errors.New("bullet not found")

	// ErrEmptyContent is returned when a bullet is created without content.
	ErrEmptyContent = errors.New("bullet content cannot be empty")

	// ErrEmptyCategory is returned when a bullet is created without a category.
	ErrEmptyCategory = errors.New("bullet category cannot be empty")

	// ErrPinned is returned when a destructive mutation targets a pinned
	// bullet. Automatic lifecycle paths skip pinned bullets silently instead.
	ErrPinned = errors.New("bullet is pinned")
)
