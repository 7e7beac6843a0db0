/*
Package types defines the core data structures used throughout Galaxy.

This package contains the fundamental types shared across component
boundaries: devices, task and device status enums, dependency kinds,
dispatch requests and execution results. These types are used by the
registry, transport, fleet, constellation and orchestrator packages.

# Core Types

Device fleet:
  - Device: a remote agent with identity, capabilities and lifecycle state
  - DeviceStatus: registered, connecting, connected, idle, busy,
    disconnected, failed

Task execution:
  - TaskStatus: pending, waiting_dependency, running, completed, failed,
    cancelled (the last three are terminal and absorbing)
  - Priority: high, medium, low
  - DependencyKind: success_only, unconditional, condition_with_keyword
  - TaskRequest: the payload dispatched to a device for one task
  - ExecutionResult: the terminal outcome of one dispatched task, always
    a value, never an error raised across the transport boundary
  - ErrorCategory: connection_error, timeout_error, execution_error,
    general_error

# Design Invariants

  - Device.CurrentTaskID is non-empty iff the device is busy; the registry
    enforces the invariant, this package only documents it.
  - TaskStatus.Advancement defines the merge ordering used when the
    orchestrator's runtime view is reconciled with the planner's
    structural view of the same task.
*/
package types
