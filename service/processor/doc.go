// Package processor owns the single logical processor: the slot holding the
// running task and the idle loop that dispatches ready tasks into it.
// Tasks give the processor back by switching into the idle context through
// Schedule.
package processor
