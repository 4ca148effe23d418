package models

import "errors"

var (
	// ErrValidation rejects a request before any write happens.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound means the target subscription is absent or owned by someone else.
	ErrNotFound = errors.New("subscription not found")

	// ErrStoreTransaction means a repository write failed and the transaction
	// was aborted; nothing was persisted.
	ErrStoreTransaction = errors.New("store transaction failed")

	// ErrSchedulingFailed means the queue backend rejected an upsert or remove.
	ErrSchedulingFailed = errors.New("scheduling failed")

	// ErrBackendUnavailable is a transient connectivity fault to the queue
	// backend and is worth retrying, unlike ErrSchedulingFailed.
	ErrBackendUnavailable = errors.New("queue backend unavailable")
)
