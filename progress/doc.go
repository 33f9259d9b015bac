// Package progress keeps aggregated task counters for one kernel instance.
// The runtime applies a Delta on every lifecycle change; observers read a
// Snapshot or register an OnChange callback.
package progress
