// Package parser turns an agent's raw output stream into semantic events.
// Parsing is pure: bytes in, events out. Writing events to the journal is
// the engine's concern.
package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// EventKind discriminates parsed events.
type EventKind string

const (
	EventText                EventKind = "text"
	EventCriterionComplete   EventKind = "criterion-complete"
	EventCriterionIncomplete EventKind = "criterion-incomplete"
	EventTaskComplete        EventKind = "task-complete"
	EventSessionID           EventKind = "session-id"
)

// Event is one semantic event extracted from the stream.
type Event struct {
	Kind EventKind

	// Index is the 1-based criterion index for criterion events.
	Index int

	// SessionID carries the id for session-id events.
	SessionID string

	// Text carries the token-stripped text for text events.
	Text string
}

var (
	criterionCompleteRe   = regexp.MustCompile(`<criterion-complete>(\d+)</criterion-complete>`)
	criterionIncompleteRe = regexp.MustCompile(`<criterion-incomplete>(\d+)</criterion-incomplete>`)
	promiseRe             = regexp.MustCompile(`<promise>TASK COMPLETE</promise>`)
)

// SessionExtractor scans a complete output line for an adapter-specific
// session identifier. Empty string means none found.
type SessionExtractor func(line string) string

// Parser consumes stream chunks and yields events in stream order. It
// buffers a partial trailing line so tokens split across chunk
// boundaries are still recognized. Not safe for concurrent use; the
// supervisor drives one parser per stream.
type Parser struct {
	extractSession SessionExtractor
	partial        strings.Builder
	sessionSeen    bool
}

// New creates a parser. extractSession may be nil for adapters without
// durable sessions.
func New(extractSession SessionExtractor) *Parser {
	return &Parser{extractSession: extractSession}
}

// Feed consumes one chunk and returns the events completed by it.
func (p *Parser) Feed(chunk []byte) []Event {
	if len(chunk) == 0 {
		return nil
	}

	text := p.partial.String() + string(chunk)
	p.partial.Reset()

	lines := strings.Split(text, "\n")
	p.partial.WriteString(lines[len(lines)-1])

	var events []Event
	for _, line := range lines[:len(lines)-1] {
		events = append(events, p.parseLine(line)...)
	}
	return events
}

// Flush drains the buffered partial line at stream end.
func (p *Parser) Flush() []Event {
	if p.partial.Len() == 0 {
		return nil
	}
	line := p.partial.String()
	p.partial.Reset()
	return p.parseLine(line)
}

// parseLine extracts events from one complete line. The stripped text is
// emitted first so journal writes precede the criteria mutations they
// explain; token events follow in order of appearance.
func (p *Parser) parseLine(line string) []Event {
	var events []Event

	if !p.sessionSeen && p.extractSession != nil {
		if id := p.extractSession(line); id != "" {
			p.sessionSeen = true
			events = append(events, Event{Kind: EventSessionID, SessionID: id})
		}
	}

	type tokenMatch struct {
		start int
		event Event
	}
	var matches []tokenMatch

	for _, m := range criterionCompleteRe.FindAllStringSubmatchIndex(line, -1) {
		n, err := strconv.Atoi(line[m[2]:m[3]])
		if err != nil {
			continue
		}
		matches = append(matches, tokenMatch{start: m[0], event: Event{Kind: EventCriterionComplete, Index: n}})
	}
	for _, m := range criterionIncompleteRe.FindAllStringSubmatchIndex(line, -1) {
		n, err := strconv.Atoi(line[m[2]:m[3]])
		if err != nil {
			continue
		}
		matches = append(matches, tokenMatch{start: m[0], event: Event{Kind: EventCriterionIncomplete, Index: n}})
	}
	for _, m := range promiseRe.FindAllStringIndex(line, -1) {
		matches = append(matches, tokenMatch{start: m[0], event: Event{Kind: EventTaskComplete}})
	}

	stripped := stripTokens(line)
	if strings.TrimSpace(stripped) != "" {
		events = append(events, Event{Kind: EventText, Text: stripped})
	}

	// Insertion sort by position; lines carry at most a handful of tokens.
	for i := 1; i < len(matches); i++ {
		for k := i; k > 0 && matches[k].start < matches[k-1].start; k-- {
			matches[k], matches[k-1] = matches[k-1], matches[k]
		}
	}
	for _, m := range matches {
		events = append(events, m.event)
	}
	return events
}

func stripTokens(line string) string {
	line = criterionCompleteRe.ReplaceAllString(line, "")
	line = criterionIncompleteRe.ReplaceAllString(line, "")
	line = promiseRe.ReplaceAllString(line, "")
	return line
}
