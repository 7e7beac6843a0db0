/*
Package transport owns the WebSocket stream to each device.

One Client per device: a single reader goroutine receives every inbound
frame, matches replies to outstanding requests by correlation key, and
routes peer-initiated messages (device info pushes, task progress) to the
configured push handler. Writes are serialized by a write lock.

The race-safe startup order during Connect is: install reader, begin the
register handshake, request device info, resolve ready-state. Starting the
reader first guarantees the server's first reply cannot be lost.

Transport failures never escape SendTask as errors; they become FAILED
ExecutionResults carrying a connection or timeout category, and the
disconnect callback fires exactly once so the fleet can transition the
registry and schedule reconnects.
*/
package transport
