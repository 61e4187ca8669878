package sse

// DebugSampler decides whether a transport chunk or canonical delta at
// a given 1-based index is worth a debug log line: the first three,
// then every 25th thereafter, to bound log volume on long streams.
type DebugSampler struct {
	count int
}

// Sample advances the internal counter and reports whether this index
// should be logged.
func (s *DebugSampler) Sample() bool {
	s.count++
	return s.count <= 3 || s.count%25 == 0
}

// Preview truncates text to ~120 chars for a bounded log line.
func Preview(text string) string {
	const max = 120
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
