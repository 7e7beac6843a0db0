/*
Package orchestrator drives a constellation DAG to a terminal state.

Each loop iteration checks cancellation, waits on the modification
barrier, merges the planner's latest structural view with local runtime
state, dispatches every ready task to its device through the fleet
manager, and then blocks until the first in-flight execution resolves.
Completions are recorded and published before the next barrier wait, so
the planner always gets a chance to respond to a result before the next
ready-set read.

Device selection falls back from the task's own assignment, to the
manual assignment map, to the configured Strategy over online devices.
A task that resolves to none of the three is a validation error raised
before anything is dispatched.
*/
package orchestrator
