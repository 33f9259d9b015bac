// Package ready owns the set of runnable tasks and decides which one the
// processor dispatches next using stride scheduling: every dispatch charges
// the task BigStride/priority and the task with the smallest accumulated
// stride always goes first.
package ready
