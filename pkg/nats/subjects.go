package nats

import (
	"strings"

	"github.com/mExOms/venueprobe/pkg/events"
)

// Subject naming convention:
// {prefix}.{venue}.{kind}.{operation}
// Examples:
// - latency.binance-ws.probe.place_order
// - latency.binance-ws.connection.none
// - latency.bybit-rest.cleanup.cancel_order

const DefaultPrefix = "latency"

// SubjectBuilder helps build NATS subjects
type SubjectBuilder struct {
	prefix    string
	venue     string
	kind      string
	operation string
}

// NewSubjectBuilder creates a new subject builder
func NewSubjectBuilder(prefix string) *SubjectBuilder {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &SubjectBuilder{prefix: prefix}
}

func (sb *SubjectBuilder) WithVenue(venue string) *SubjectBuilder {
	sb.venue = venue
	return sb
}

func (sb *SubjectBuilder) WithKind(kind string) *SubjectBuilder {
	sb.kind = kind
	return sb
}

func (sb *SubjectBuilder) WithOperation(op string) *SubjectBuilder {
	sb.operation = op
	return sb
}

// Build creates the subject string. Empty tokens become "none" so every
// subject has the same depth; NATS forbids empty tokens.
func (sb *SubjectBuilder) Build() string {
	parts := []string{sb.prefix, token(sb.venue), token(sb.kind), token(sb.operation)}
	return strings.Join(parts, ".")
}

// token replaces characters NATS treats as separators or wildcards.
func token(s string) string {
	if s == "" {
		return "none"
	}
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}

// EventSubject returns the subject an event is published on.
func EventSubject(prefix string, e events.Event) string {
	return NewSubjectBuilder(prefix).
		WithVenue(e.Venue).
		WithKind(string(e.Kind)).
		WithOperation(string(e.Operation)).
		Build()
}

// StreamSubjects returns the wildcard covering every event subject.
func StreamSubjects(prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + ".>"
}

// ParseSubject splits an event subject into its components.
func ParseSubject(subject string) (venue, kind, operation string, ok bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 4 {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}
