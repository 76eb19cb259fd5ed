package model

import "errors"

var (
	// ErrNotRun is returned when completion is queried on an event-based
	// target before any run has been submitted.
	ErrNotRun = errors.New("model completion event was not initialized")

	// ErrNoConstantsMap is returned when the indexed constants array is
	// rebuilt while no constants map is installed.
	ErrNoConstantsMap = errors.New("no constants map installed")

	// ErrBlobReleased is returned when the constant blob is relinquished
	// more than once.
	ErrBlobReleased = errors.New("constant blob already released")

	// ErrConstantsNotLoaded is returned when a run-time lookup needs
	// constants that were never loaded or installed.
	ErrConstantsNotLoaded = errors.New("constants not loaded")
)
