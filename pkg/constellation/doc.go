/*
Package constellation implements the task DAG Galaxy executes.

A Constellation owns tasks (nodes) and dependencies (directed edges) and
answers the scheduling queries the orchestrator loop needs: the ready set,
newly-ready deltas after a completion, completion detection and final
state derivation.

# Structural Invariants

  - Every dependency's endpoints reference tasks present in the same
    constellation.
  - The dependency graph is acyclic; AddDependency rejects any edge that
    would introduce a cycle and leaves the constellation unchanged.
  - Terminal task states (completed, failed, cancelled) are absorbing
    within one constellation instance; dynamic edits produce new nodes
    rather than revive terminal ones.

# Write Roles

Two writers touch a constellation: the orchestrator owns runtime fields
(status, result, error, execution timestamps) through MarkTaskStarted /
MarkTaskCompleted / MarkTaskCancelled, and the planner owns structure
through AddTask / RemoveTask / AddDependency / RemoveDependency. The
synchronizer barrier serializes the two roles; AdoptRuntime is the single
reconciliation point, keeping whichever task status is more advanced.

# Dependency Kinds

success_only edges require the from-task to have completed; unconditional
edges accept any terminal state; condition_with_keyword edges additionally
require the trigger keyword to appear in the from-task's result or error
text.
*/
package constellation
