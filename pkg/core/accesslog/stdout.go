//
//  Copyright © Manetu Inc. All rights reserved.
//

package accesslog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// IoWriterFactory creates [Stream] instances that write to an [io.Writer].
//
// Use [NewStdoutFactory] for stdout, or [NewIoWriterFactory] for a custom
// writer such as a file or buffer.
type IoWriterFactory struct {
	writer io.Writer
}

// IoWriterStream writes decision records as single-line JSON to an
// [io.Writer]. Writes are serialized, making the stream safe for
// concurrent use.
type IoWriterStream struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewStdoutFactory creates a [Factory] that writes decision records to
// stdout. This is the default when no access log is explicitly configured;
// suitable for development and for deployments where stdout is captured by
// a log aggregator.
func NewStdoutFactory() Factory {
	return NewIoWriterFactory(os.Stdout)
}

// NewIoWriterFactory creates a [Factory] that writes decision records to
// the specified [io.Writer].
func NewIoWriterFactory(w io.Writer) Factory {
	return &IoWriterFactory{writer: w}
}

// NewStream creates a new [IoWriterStream] that writes to the configured writer.
func (f *IoWriterFactory) NewStream() (Stream, error) {
	return &IoWriterStream{writer: f.writer}, nil
}

// Send marshals the record to JSON and writes it followed by a newline.
func (s *IoWriterStream) Send(record *DecisionRecord) error {
	out, err := json.Marshal(record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = fmt.Fprintln(s.writer, string(out))
	return err
}

// Close is a no-op for IoWriterStream.
//
// The underlying writer is not closed; the caller owns it (and stdout must
// never be closed).
func (s *IoWriterStream) Close() {}
