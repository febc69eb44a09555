package domain

import "errors"

var (
	// ErrPlatformFatal marks platform errors that disable a bot (unauthorized, unknown bot, webhook conflict)
	ErrPlatformFatal = errors.New("fatal platform error")

	// ErrPlatformTransient marks retryable platform errors (timeout, rate limit, 5xx)
	ErrPlatformTransient = errors.New("transient platform error")

	// ErrScenarioNotFound is returned when a scenario id does not resolve
	ErrScenarioNotFound = errors.New("scenario not found")

	// ErrNodeNotFound is returned when a node id does not resolve inside its scenario
	ErrNodeNotFound = errors.New("node not found")

	// ErrNotFound is the generic record-store miss
	ErrNotFound = errors.New("record not found")
)
