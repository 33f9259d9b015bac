package clock

import "time"

// NowFunc returns current time. Override in tests for determinism.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }

// Micros returns the current time in microseconds since the Unix epoch.
func Micros() uint64 { return uint64(NowFunc().UnixMicro()) }
