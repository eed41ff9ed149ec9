// Package logs implements the background worker that frames a
// container's stdout/stderr pipe into Kubernetes container-log-line
// format.
package logs

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/nuxinl/scuba/internal/isotime"
)

// Framer owns a pipe read end and a log file exclusively; both are
// released when the worker exits. The runtime keeps only the pipe's
// write end — closing it lets the worker drain and terminate.
type Framer struct {
	read io.ReadCloser
	log  io.WriteCloser
	done chan struct{}
}

// Start launches the framer goroutine. read and log are owned by the
// Framer from this point on: both are closed when the worker exits.
func Start(read io.ReadCloser, log io.WriteCloser) *Framer {
	f := &Framer{read: read, log: log, done: make(chan struct{})}
	go f.run()
	return f
}

// Wait blocks until the worker has drained and released its handles.
func (f *Framer) Wait() {
	<-f.done
}

func (f *Framer) run() {
	defer close(f.done)
	defer f.log.Close()
	defer f.read.Close()

	f.writeBoundary("stderr", "--- Logging started")

	buf := make([]byte, 32*1024)
	atLineStart := true
	for {
		n, err := f.read.Read(buf)
		if n > 0 {
			f.frameChunk(buf[:n], &atLineStart)
		}
		if err != nil {
			if !atLineStart {
				// Child closed mid-line: append a synthetic newline.
				if _, werr := f.log.Write([]byte("\n")); werr != nil {
					slog.Error("logs.Framer: write synthetic newline", "error", werr)
				}
			}
			reason := "Pipe closed by container"
			if err != io.EOF {
				reason = err.Error()
			}
			f.writeBoundary("stderr", "--- Logging stopped: "+reason)
			return
		}
	}
}

// frameChunk writes one chunk's worth of bytes, computing a single
// timestamp lazily and reusing it for every line start within the chunk.
func (f *Framer) frameChunk(data []byte, atLineStart *bool) {
	var ts *isotime.Timestamp
	stamp := func() isotime.Timestamp {
		if ts == nil {
			t := isotime.Now()
			ts = &t
		}
		return *ts
	}

	for len(data) > 0 {
		if *atLineStart {
			if _, err := fmt.Fprintf(f.log, "%s stdout ", stamp()); err != nil {
				slog.Error("logs.Framer: write line prefix", "error", err)
			}
			*atLineStart = false
		}
		idx := bytes.IndexByte(data, '\n')
		if idx == -1 {
			if _, err := f.log.Write(data); err != nil {
				slog.Error("logs.Framer: write chunk", "error", err)
			}
			return
		}
		if _, err := f.log.Write(data[:idx+1]); err != nil {
			slog.Error("logs.Framer: write line", "error", err)
		}
		*atLineStart = true
		data = data[idx+1:]
	}
}

func (f *Framer) writeBoundary(stream, msg string) {
	if _, err := fmt.Fprintf(f.log, "%s %s %s\n", isotime.Now(), stream, msg); err != nil {
		slog.Error("logs.Framer: write boundary", "error", err, "msg", msg)
	}
}
