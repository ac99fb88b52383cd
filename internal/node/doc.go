// Package node defines the units advanced by the buffered update engine.
//
// A Node holds a committed value and a buffered value. During a tick every
// node computes its next value from committed values only (Update), and the
// new values become visible together when the tick commits (Commit). The
// Set type tracks live membership independently of any scheduling layout.
package node
