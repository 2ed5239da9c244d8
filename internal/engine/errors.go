package engine

import (
	"errors"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
)

var (
	// ErrBackendNotStarted is returned when an operation needs a running engine.
	ErrBackendNotStarted = errors.New("backend not started")

	// ErrAlreadyInitializing is returned when start/restart is called while a start is in flight.
	ErrAlreadyInitializing = errors.New("backend initialization already in progress")

	// ErrRequestTimeout is returned when a submission outlives its deadline.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrEngineConstructionFailed wraps any failure while building an engine instance.
	ErrEngineConstructionFailed = errors.New("engine construction failed")

	// ErrModelNotFound is returned when a model name resolves to no configuration.
	ErrModelNotFound = config.ErrModelNotFound
)
