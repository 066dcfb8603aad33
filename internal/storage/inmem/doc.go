// Package inmem provides the in-memory session and memory stores that hold
// the live state of every identity scope. Snapshot sinks in the sibling
// packages persist this state; they are never consulted on the hot path.
package inmem
