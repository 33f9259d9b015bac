package ktask

import "errors"

var (
	// ErrInvalidPriority is returned by SetPriority for weights below
	// task.MinPriority.
	ErrInvalidPriority = errors.New("ktask: invalid priority")

	// ErrInitProcRegistered is returned by a second AddInitProc.
	ErrInitProcRegistered = errors.New("ktask: init process already registered")
)
