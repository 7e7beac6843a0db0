/*
Package registry maintains the authoritative in-memory directory of
devices.

The registry tracks identity, declared capabilities and lifecycle status
for every device the fleet manager knows about. It performs pure state
transitions; connecting, heartbeating and task dispatch live in the
transport and fleet packages, which drive the registry as their single
source of truth.

The busy invariant is enforced here: a device's CurrentTaskID is non-empty
exactly when its status is busy. SetBusy requires a task id and every
other transition clears it.
*/
package registry
