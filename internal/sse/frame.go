// Package sse turns upstream Server-Sent-Event byte streams into
// frames, and frames into canonical text/reasoning/tool-call deltas,
// for both upstream shapes the chat-completions-family and
// responses-shaped adapters speak.
package sse

import "strings"

// FrameBuffer accumulates upstream bytes and yields complete frames
// (the substring up to the next blank line) as they arrive.
type FrameBuffer struct {
	buf strings.Builder
}

// Feed appends a chunk of upstream bytes and returns every complete
// frame the chunk completed, in arrival order.
func (b *FrameBuffer) Feed(chunk []byte) []string {
	b.buf.WriteString(strings.ReplaceAll(string(chunk), "\r\n", "\n"))

	var frames []string
	for {
		content := b.buf.String()
		idx := strings.Index(content, "\n\n")
		if idx < 0 {
			break
		}
		frames = append(frames, content[:idx])
		remainder := content[idx+2:]
		b.buf.Reset()
		b.buf.WriteString(remainder)
	}
	return frames
}

// Flush returns any non-empty tail left in the buffer as a final
// frame, once the upstream connection has ended.
func (b *FrameBuffer) Flush() (string, bool) {
	tail := strings.TrimRight(b.buf.String(), "\n")
	b.buf.Reset()
	if tail == "" {
		return "", false
	}
	return tail, true
}

// ExtractData concatenates the payloads of every "data:" line in a
// frame (newline-joined, one leading space trimmed), skipping blank
// lines and comment lines starting with ":". Returns false if the
// only data present is the literal "[DONE]" marker, or if there is no
// data at all.
func ExtractData(frame string) (string, bool) {
	var parts []string
	for _, line := range strings.Split(frame, "\n") {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimPrefix(line, "data:")
		payload = strings.TrimPrefix(payload, " ")
		parts = append(parts, payload)
	}
	if len(parts) == 0 {
		return "", false
	}
	data := strings.Join(parts, "\n")
	if data == "[DONE]" {
		return "", false
	}
	return data, true
}

// EventName returns the value of a frame's "event:" line, if present.
func EventName(frame string) string {
	for _, line := range strings.Split(frame, "\n") {
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			return strings.TrimSpace(name)
		}
	}
	return ""
}
