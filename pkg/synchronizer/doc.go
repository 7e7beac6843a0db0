/*
Package synchronizer serialises the two writers of a constellation.

The orchestrator writes runtime fields (status, results, timestamps)
while the planner rewrites structure (tasks, dependencies) in response
to completions. Rather than sharing a lock, every task completion arms a
one-shot pending signal here, and the orchestrator blocks on the barrier
before its next scheduling pass. The planner's CONSTELLATION_MODIFIED
event resolves the signals it responds to and installs the new
structural view; Merge then folds the orchestrator's runtime state into
that view, keeping whichever status is more advanced per task.

A silent planner cannot stall execution: each signal auto-resolves after
a configurable deadline, and the barrier itself clears the pending set
on timeout. With no planner attached nothing is ever armed, so
plannerless sessions pass the barrier immediately.
*/
package synchronizer
