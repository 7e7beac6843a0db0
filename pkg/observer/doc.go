/*
Package observer holds the derived views fed off the event bus.

SessionMetrics accumulates per-session task and constellation counters
for reporters. Broadcaster serialises every event into the stable JSON
boundary envelope and fans it out to registered sinks; Hub is the
WebSocket sink the Web UI connects to. None of them may block an
upstream publisher, so slow consumers are dropped, never waited on.
*/
package observer
