package service

import "errors"

var (
	// ErrUnknownQuery is returned when an operation references a query hash
	// the client view record does not track
	ErrUnknownQuery = errors.New("unknown query")

	// ErrInvalidArgument is returned for malformed caller input
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrVersionRegression is returned when a query-driven cycle is started
	// with a state version older than the record's
	ErrVersionRegression = errors.New("state version regression")

	// ErrReplicaVersionMismatch is returned when the record was built against a
	// different replica. The caller must discard the record and start over.
	ErrReplicaVersionMismatch = errors.New("replica version mismatch")

	// ErrAlreadyFlushed is returned when an updater is flushed twice
	ErrAlreadyFlushed = errors.New("updater already flushed")
)
