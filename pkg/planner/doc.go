// Package planner defines the interface the orchestrator consumes for
// DAG planning, plus a scripted implementation for tests and demos.
// Production planners (LLM-backed or otherwise) live outside this
// repository; they only need to satisfy Planner and speak the bus
// protocol described on it.
package planner
