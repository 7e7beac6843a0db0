/*
Package fleet composes Galaxy's device-facing subsystems behind one
facade.

The Manager owns the device registry, one WebSocket transport per device,
a heartbeat ticker per connection, at most one reconnect worker per
device, and a per-device FIFO task queue with at most one task in flight.
Every device status change is published on the event bus as a device
lifecycle event carrying a full registry snapshot.

# Task Flow

AssignTask enqueues a request on the device's queue and returns a future.
The queue's single drain goroutine executes tasks in assignment order:
registry BUSY transition, transport SendTask, registry IDLE transition.
On disconnect, queued and in-flight futures resolve to FAILED results
with a connection_error category and the queue is cleared.

# Liveness

Heartbeats run per connection at a configurable interval; a configurable
number of consecutive misses aborts the transport, which takes the same
path as any receive error: registry DISCONNECTED, queue failure, and a
reconnect worker with a fixed delay between attempts. The worker exits on
success or leaves the device FAILED after its retry ceiling. Initial
connects and reconnects keep separate attempt counters.
*/
package fleet
