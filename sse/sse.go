// Package sse implements the event stream wire format: one
// "data: <json>\n\n" frame per event, terminated by "data: [DONE]\n\n".
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/minios-linux/lokstudio/translate"
)

// ContentType is the media type of an event stream response.
const ContentType = "text/event-stream"

// Done is the payload of the terminating frame.
const Done = "[DONE]"

// ErrDone is returned by Reader.Next after the terminating frame.
var ErrDone = errors.New("sse: stream done")

// Writer writes frames to an underlying writer, flushing after each one
// when the writer supports it.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	done    bool
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// SetHeaders prepares an HTTP response for streaming.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// WriteEvent writes one translation event.
func (w *Writer) WriteEvent(e translate.Event) error {
	data, err := translate.MarshalEvent(e)
	if err != nil {
		return err
	}
	return w.WriteData(data)
}

// WriteJSON writes v encoded as JSON.
func (w *Writer) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: encoding frame: %w", err)
	}
	return w.WriteData(data)
}

// WriteData writes a raw frame. Multi-line payloads are split into
// several data lines.
func (w *Writer) WriteData(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return errors.New("sse: write after done")
	}
	var buf bytes.Buffer
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	if _, err := w.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("sse: writing frame: %w", err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Done writes the terminating frame. Later writes fail.
func (w *Writer) Done() error {
	if err := w.WriteData([]byte(Done)); err != nil {
		return err
	}
	w.mu.Lock()
	w.done = true
	w.mu.Unlock()
	return nil
}

// Reader parses frames from a stream.
type Reader struct {
	sc *bufio.Scanner
}

// NewReader reads frames from r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	return &Reader{sc: sc}
}

// Next returns the payload of the next frame, ErrDone after the
// terminating frame, or io.EOF when the stream ends without one.
// Comment lines and fields other than data are skipped.
func (r *Reader) Next() ([]byte, error) {
	var lines []string
	for r.sc.Scan() {
		line := r.sc.Text()
		if line == "" {
			if lines == nil {
				continue
			}
			break
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			lines = append(lines, strings.TrimPrefix(v, " "))
		}
	}
	if lines == nil {
		if err := r.sc.Err(); err != nil {
			return nil, fmt.Errorf("sse: reading stream: %w", err)
		}
		return nil, io.EOF
	}
	payload := strings.Join(lines, "\n")
	if payload == Done {
		return nil, ErrDone
	}
	return []byte(payload), nil
}

// NextEvent decodes the next frame as a translation event.
func (r *Reader) NextEvent() (translate.Event, error) {
	data, err := r.Next()
	if err != nil {
		return nil, err
	}
	return translate.DecodeEvent(data)
}
