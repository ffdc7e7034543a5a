package ingest

import "sync/atomic"

// StatusReader exposes the transport and counter state read by the query
// API.
type StatusReader interface {
	Connected() bool
	MessagesReceived() uint64
}

// State is written by the coordinator only.
type State struct {
	connected atomic.Bool
	received  atomic.Uint64
}

func (s *State) Connected() bool          { return s.connected.Load() }
func (s *State) MessagesReceived() uint64 { return s.received.Load() }

func (s *State) setConnected(v bool) { s.connected.Store(v) }
func (s *State) incReceived()        { s.received.Add(1) }
