/*
Package protocol defines the typed JSON messages exchanged with devices.

Each device connection is a bidirectional stream of Message envelopes.
Request/reply pairs are correlated by a field carried in both directions:
task id for task messages, sequence for heartbeats, and a synthetic
correlation id for register and device-info exchanges. Messages the
transport cannot correlate (device info pushes, task progress) are routed
to the server-push handler.
*/
package protocol
