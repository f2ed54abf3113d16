package scheduler

import (
	"fmt"
	"strings"
)

// Priority orders dispatch among pending tasks. Lower rank runs first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityDefault
	PriorityLow
)

// rank maps unknown values onto PriorityDefault
func (p Priority) rank() int {
	if p < PriorityHigh || p > PriorityLow {
		return int(PriorityDefault)
	}
	return int(p)
}

func (p Priority) normalize() Priority {
	return Priority(p.rank())
}

func (p Priority) String() string {
	switch p.normalize() {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "default"
	}
}

// ParsePriority accepts "high", "default" or "low" in any case; empty means default
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh, nil
	case "default", "":
		return PriorityDefault, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityDefault, fmt.Errorf("unknown priority %q", s)
	}
}
