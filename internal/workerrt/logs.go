package workerrt

import (
	"strings"
	"time"
)

type logLine struct {
	at   time.Time
	text string
}

// splitTimestamped parses `docker logs --timestamps` output. A line without
// a leading timestamp inherits the previous line's.
func splitTimestamped(b []byte) []logLine {
	var (
		out  []logLine
		last time.Time
	)
	for _, raw := range strings.Split(string(b), "\n") {
		if raw == "" {
			continue
		}
		if ts, rest, ok := strings.Cut(raw, " "); ok {
			if at, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				last = at
				out = append(out, logLine{at: at, text: rest})
				continue
			}
		}
		out = append(out, logLine{at: last, text: raw})
	}
	return out
}

// mergeStreams interleaves stdout and stderr in timestamp order and drops
// the timestamps. On equal timestamps stdout comes first.
func mergeStreams(stdout, stderr []byte) string {
	a, b := splitTimestamped(stdout), splitTimestamped(stderr)

	var sb strings.Builder
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var next logLine
		if j >= len(b) || (i < len(a) && !b[j].at.Before(a[i].at)) {
			next = a[i]
			i++
		} else {
			next = b[j]
			j++
		}
		sb.WriteString(next.text)
		sb.WriteByte('\n')
	}
	return sb.String()
}
