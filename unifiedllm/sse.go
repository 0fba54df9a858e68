package unifiedllm

import (
	"bytes"
	"strings"
)

// SSEFrame is one blank-line-delimited server-sent-event block.
type SSEFrame struct {
	Event string
	Data  string
}

// SSEDecoder turns arbitrarily fragmented bytes into SSE frames. Feed may be
// called with chunks of any size; a line or frame split across chunks is
// retained until the rest arrives.
type SSEDecoder struct {
	buf     []byte
	event   string
	data    []string
	hasData bool
}

// Feed appends chunk to the decoder and returns every frame it completed.
func (d *SSEDecoder) Feed(chunk []byte) []SSEFrame {
	d.buf = append(d.buf, chunk...)

	var frames []SSEFrame
	start := 0
	for {
		i := bytes.IndexByte(d.buf[start:], '\n')
		if i < 0 {
			break
		}
		line := d.buf[start : start+i]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if frame, ok := d.line(string(line)); ok {
			frames = append(frames, frame)
		}
		start += i + 1
	}
	d.buf = append(d.buf[:0], d.buf[start:]...)
	return frames
}

// Flush dispatches whatever is pending at end of stream.
func (d *SSEDecoder) Flush() []SSEFrame {
	var frames []SSEFrame
	if len(d.buf) > 0 {
		line := strings.TrimSuffix(string(d.buf), "\r")
		d.buf = d.buf[:0]
		if frame, ok := d.line(line); ok {
			frames = append(frames, frame)
		}
	}
	if frame, ok := d.dispatch(); ok {
		frames = append(frames, frame)
	}
	return frames
}

func (d *SSEDecoder) line(line string) (SSEFrame, bool) {
	if line == "" {
		return d.dispatch()
	}
	if strings.HasPrefix(line, ":") {
		return SSEFrame{}, false
	}

	field, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}
	switch field {
	case "event":
		d.event = value
	case "data":
		d.data = append(d.data, value)
		d.hasData = true
	}
	return SSEFrame{}, false
}

func (d *SSEDecoder) dispatch() (SSEFrame, bool) {
	defer func() {
		d.event = ""
		d.data = d.data[:0]
		d.hasData = false
	}()
	if !d.hasData {
		return SSEFrame{}, false
	}
	data := strings.Join(d.data, "\n")
	if strings.TrimSpace(data) == "" {
		return SSEFrame{}, false
	}
	return SSEFrame{Event: d.event, Data: data}, true
}
