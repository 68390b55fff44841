package report

import (
	"encoding/json"
	"io"
	"sync"
)

// JSONWriter writes probe runs as JSON. In stream mode every entry is written
// as its own line when it completes, followed by a final "run" line.
type JSONWriter struct {
	mu     sync.Mutex
	writer io.Writer
	pretty bool
	stream bool
	closed bool
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer, pretty, stream bool) *JSONWriter {
	return &JSONWriter{
		writer: w,
		pretty: pretty,
		stream: stream,
	}
}

// StreamEvent is one line of streamed output.
type StreamEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WriteEntry writes a single entry in streaming mode. It is a no-op otherwise.
func (j *JSONWriter) WriteEntry(e Entry) error {
	if !j.stream {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	return j.write(StreamEvent{Type: "entry", Data: e})
}

// WriteRun writes the run summary.
func (j *JSONWriter) WriteRun(run *Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	if j.stream {
		// Entries were already streamed.
		summary := *run
		summary.Entries = nil
		return j.write(StreamEvent{Type: "run", Data: summary})
	}
	return j.write(run)
}

func (j *JSONWriter) write(v any) error {
	var data []byte
	var err error

	if j.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}

	if _, err = j.writer.Write(data); err != nil {
		return err
	}
	_, err = j.writer.Write([]byte("\n"))
	return err
}

// Close closes the writer. The underlying writer is closed when it is an
// io.Closer.
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if closer, ok := j.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
