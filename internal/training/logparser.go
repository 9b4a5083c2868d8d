package training

import (
	"encoding/json"
	"strings"
)

type EventKind string

const (
	EventProgress EventKind = "progress"
	EventSample   EventKind = "sample"
	EventError    EventKind = "error"
	EventComplete EventKind = "complete"
)

// LogEvent is one structured record recognized in a worker's output.
// Which fields are meaningful depends on Kind.
type LogEvent struct {
	Kind        EventKind
	Step        int
	Percent     float64
	TotalSteps  *int
	Loss        *float64
	ArtifactURL string
	Message     string
}

// ParseLog turns the accumulated worker output into events, in order.
// Lines that are not JSON objects, lack a required field, or carry an
// unknown type are skipped; workers interleave plain diagnostics freely.
func ParseLog(text string) []LogEvent {
	var events []LogEvent
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] != '{' {
			continue
		}
		if ev, ok := parseLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

func parseLine(line string) (LogEvent, bool) {
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return LogEvent{}, false
	}
	kind, _ := rec["type"].(string)

	switch EventKind(kind) {
	case EventProgress:
		step, ok := number(rec, "step")
		if !ok {
			return LogEvent{}, false
		}
		percent, ok := number(rec, "percent")
		if !ok {
			return LogEvent{}, false
		}
		ev := LogEvent{Kind: EventProgress, Step: int(step), Percent: clampPercent(percent)}
		if total, ok := number(rec, "total_steps"); ok {
			t := int(total)
			ev.TotalSteps = &t
		}
		if loss, ok := number(rec, "loss"); ok {
			ev.Loss = &loss
		}
		return ev, true

	case EventSample:
		step, ok := number(rec, "step")
		if !ok {
			return LogEvent{}, false
		}
		url, ok := rec["artifact_url"].(string)
		if !ok {
			url, ok = rec["url"].(string)
		}
		if !ok {
			return LogEvent{}, false
		}
		return LogEvent{Kind: EventSample, Step: int(step), ArtifactURL: url}, true

	case EventError:
		msg, ok := rec["message"].(string)
		if !ok {
			return LogEvent{}, false
		}
		return LogEvent{Kind: EventError, Message: msg}, true

	case EventComplete:
		return LogEvent{Kind: EventComplete, Percent: 100}, true
	}

	return LogEvent{}, false
}

func number(rec map[string]any, key string) (float64, bool) {
	v, ok := rec[key].(float64)
	return v, ok
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
