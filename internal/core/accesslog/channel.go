//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package accesslog provides internal decision-log plumbing: a channel
// stream for tests and the asynchronous dispatcher the engine uses to keep
// record emission off the request path.
package accesslog

import (
	"github.com/bento-platform/authz/internal/logging"
	"github.com/bento-platform/authz/pkg/core/accesslog"
)

var logger = logging.GetLogger("authz.accesslog")

const agent = "accesslog"

// ChannelFactory factory for ChannelStream
type ChannelFactory struct {
	ch chan *accesslog.DecisionRecord
}

// ChannelStream implements the Stream interface by writing decision records to a channel.
type ChannelStream struct {
	ch chan *accesslog.DecisionRecord
}

// NewChannelLogger creates a new Stream factory that delivers decision
// records to a channel, letting tests assert on emitted records.
func NewChannelLogger(ch chan *accesslog.DecisionRecord) accesslog.Factory {
	return &ChannelFactory{ch: ch}
}

// NewStream creates a new Stream to satisfy the Factory interface.
func (f *ChannelFactory) NewStream() (accesslog.Stream, error) {
	return &ChannelStream{ch: f.ch}, nil
}

// Send delivers a decision record to the channel.
func (s *ChannelStream) Send(m *accesslog.DecisionRecord) error {
	s.ch <- m

	return nil
}

// Close finalizes the stream by closing the underlying channel.
func (s *ChannelStream) Close() {
	if s.ch != nil {
		close(s.ch)
	}
}

// Dispatcher decouples record emission from the request path. Records are
// queued on a buffered channel and drained by one goroutine; when the
// queue is full the record is dropped with a warning, never blocking or
// failing the request that produced it.
type Dispatcher struct {
	stream accesslog.Stream
	queue  chan *accesslog.DecisionRecord
	done   chan struct{}
}

// NewDispatcher starts a dispatcher draining into the given stream.
func NewDispatcher(stream accesslog.Stream, depth int) *Dispatcher {
	d := &Dispatcher{
		stream: stream,
		queue:  make(chan *accesslog.DecisionRecord, depth),
		done:   make(chan struct{}),
	}
	go d.drain()
	return d
}

func (d *Dispatcher) drain() {
	defer close(d.done)
	for rec := range d.queue {
		if err := d.stream.Send(rec); err != nil {
			logger.Warnf(agent, "send", "failed to emit decision record %s: %+v", rec.ID, err)
		}
	}
}

// Emit enqueues a record without blocking.
func (d *Dispatcher) Emit(rec *accesslog.DecisionRecord) {
	select {
	case d.queue <- rec:
	default:
		logger.Warnf(agent, "emit", "decision log queue full; dropping record %s", rec.ID)
	}
}

// Close drains outstanding records and closes the underlying stream.
func (d *Dispatcher) Close() {
	close(d.queue)
	<-d.done
	d.stream.Close()
}
