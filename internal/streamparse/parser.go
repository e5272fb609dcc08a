package streamparse

import "strings"

const (
	thinkOpen   = "[THINK]"
	thinkClose  = "[/THINK]"
	startPrefix = "[START_FILE:"
	endPrefix   = "[END_FILE:"
	whitespace  = " \t\r\n"

	DefaultFileThoughtsLimit = 200
	DefaultTextThoughtsLimit = 500
)

type Mode int

const (
	// ModeFiles extracts [START_FILE:name] ... [END_FILE:name] blocks.
	ModeFiles Mode = iota
	// ModeText passes conversational text through once thoughts are resolved.
	ModeText
)

type EventKind string

const (
	EventThoughts EventKind = "thoughts"
	EventFile     EventKind = "file"
	EventText     EventKind = "text"
)

type File struct {
	Name    string
	Type    string
	Content string
}

// Event is one parser emission. File events carry the content accumulated so
// far for that file, so consumers overwrite instead of appending.
type Event struct {
	Kind     EventKind
	Thoughts string
	Text     string
	File     File
}

type Options struct {
	Mode Mode
	// ThoughtsLimit is how many buffered characters without a [THINK] marker
	// are tolerated before the thoughts block is given up on.
	ThoughtsLimit int
}

type Parser struct {
	mode             Mode
	limit            int
	buf              string
	thoughtsResolved bool
	open             *File
	skipTick         bool
	trimLead         bool
}

func New(opts Options) *Parser {
	limit := opts.ThoughtsLimit
	if limit <= 0 {
		limit = DefaultFileThoughtsLimit
		if opts.Mode == ModeText {
			limit = DefaultTextThoughtsLimit
		}
	}
	return &Parser{mode: opts.Mode, limit: limit}
}

// Feed appends one chunk and returns the events it completes.
func (p *Parser) Feed(chunk string) []Event {
	if chunk == "" {
		return nil
	}
	if p.skipTick {
		p.skipTick = false
		chunk = strings.TrimPrefix(chunk, "`")
		if chunk == "" {
			return nil
		}
	}
	p.buf += chunk
	var events []Event
	if !p.thoughtsResolved {
		events = append(events, p.resolveThoughts(false)...)
		if !p.thoughtsResolved {
			return events
		}
	}
	return append(events, p.drain()...)
}

// Flush resolves whatever is still buffered at end of stream. An open file
// without a closing marker receives the remaining buffer.
func (p *Parser) Flush() []Event {
	var events []Event
	if !p.thoughtsResolved {
		events = append(events, p.resolveThoughts(true)...)
	}
	events = append(events, p.drain()...)
	if p.mode == ModeFiles && p.open != nil {
		if p.buf != "" {
			p.open.Content += p.buf
			p.buf = ""
			events = append(events, p.snapshot())
		}
		p.open = nil
	}
	return events
}

// OpenFile reports the file currently being accumulated, if any.
func (p *Parser) OpenFile() (File, bool) {
	if p.open == nil {
		return File{}, false
	}
	return *p.open, true
}

func (p *Parser) resolveThoughts(final bool) []Event {
	if end := strings.Index(p.buf, thinkClose); end >= 0 {
		p.thoughtsResolved = true
		start := strings.Index(p.buf, thinkOpen)
		if start < 0 || start > end {
			return nil
		}
		thoughts := strings.TrimSpace(p.buf[start+len(thinkOpen) : end])
		p.buf = strings.TrimLeft(p.buf[end+len(thinkClose):], whitespace)
		p.trimLead = p.buf == ""
		return []Event{{Kind: EventThoughts, Thoughts: thoughts}}
	}
	if final {
		p.thoughtsResolved = true
		return nil
	}
	if len(p.buf) > p.limit && !strings.Contains(p.buf, thinkOpen) && !hasPartialSuffix(p.buf, thinkOpen) {
		p.thoughtsResolved = true
	}
	return nil
}

func (p *Parser) drain() []Event {
	if p.mode == ModeText {
		return p.drainText()
	}
	var events []Event
	for {
		if p.open == nil {
			m, ok := findStart(p.buf)
			if !ok {
				return events
			}
			p.open = &File{Name: m.name, Type: FileType(m.name)}
			p.buf = p.buf[m.end:]
			if !m.trailingTick && p.buf == "" {
				p.skipTick = true
			}
			continue
		}

		end, endOK := findEnd(p.buf, p.open.Name)
		next, nextOK := findStart(p.buf)
		boundary, consumed := -1, 0
		switch {
		case endOK && (!nextOK || end.start <= next.start):
			boundary, consumed = end.start, end.end-end.start
		case nextOK:
			boundary = next.start
		}
		if boundary >= 0 {
			p.skipTick = false
			p.open.Content += p.buf[:boundary]
			events = append(events, p.snapshot())
			p.buf = p.buf[boundary+consumed:]
			p.open = nil
			continue
		}

		cut := holdPoint(p.buf)
		if cut > 0 {
			p.skipTick = false
			p.open.Content += p.buf[:cut]
			p.buf = p.buf[cut:]
			events = append(events, p.snapshot())
		}
		return events
	}
}

func (p *Parser) drainText() []Event {
	if p.buf == "" {
		return nil
	}
	text := p.buf
	p.buf = ""
	if p.trimLead {
		text = strings.TrimLeft(text, whitespace)
		if text == "" {
			return nil
		}
		p.trimLead = false
	}
	return []Event{{Kind: EventText, Text: text}}
}

func (p *Parser) snapshot() Event {
	return Event{Kind: EventFile, File: *p.open}
}

type marker struct {
	start        int
	end          int
	name         string
	trailingTick bool
}

func findStart(buf string) (marker, bool) {
	for off := 0; off < len(buf); {
		i := strings.Index(buf[off:], startPrefix)
		if i < 0 {
			return marker{}, false
		}
		i += off
		j := i + len(startPrefix)
		k := j
		for k < len(buf) && isNameByte(buf[k]) {
			k++
		}
		if k > j && k < len(buf) && buf[k] == ']' {
			return withTicks(buf, marker{start: i, end: k + 1, name: buf[j:k]}), true
		}
		off = i + 1
	}
	return marker{}, false
}

func findEnd(buf, name string) (marker, bool) {
	token := endPrefix + name + "]"
	i := strings.Index(buf, token)
	if i < 0 {
		return marker{}, false
	}
	return withTicks(buf, marker{start: i, end: i + len(token), name: name}), true
}

func withTicks(buf string, m marker) marker {
	if m.start > 0 && buf[m.start-1] == '`' {
		m.start--
	}
	if m.end < len(buf) && buf[m.end] == '`' {
		m.end++
		m.trailingTick = true
	}
	return m
}

// holdPoint returns how much of buf can be committed as file content without
// risking a marker that has not fully arrived.
func holdPoint(buf string) int {
	cut := strings.LastIndexByte(buf, '[')
	if cut < 0 {
		cut = len(buf)
		if strings.HasSuffix(buf, "`") {
			cut--
		}
		return cut
	}
	if cut > 0 && buf[cut-1] == '`' {
		cut--
	}
	return cut
}

func isNameByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_', c == '/', c == '.', c == '-':
		return true
	}
	return false
}

func hasPartialSuffix(buf, token string) bool {
	for k := len(token) - 1; k > 0; k-- {
		if strings.HasSuffix(buf, token[:k]) {
			return true
		}
	}
	return false
}

// FileType is the extension after the last dot of a file name.
func FileType(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// SplitThoughts runs a complete response through a text-mode parser and
// returns the thoughts block (if any) and the remaining text.
func SplitThoughts(text string, limit int) (thoughts string, found bool, rest string) {
	p := New(Options{Mode: ModeText, ThoughtsLimit: limit})
	var b strings.Builder
	events := append(p.Feed(text), p.Flush()...)
	for _, evt := range events {
		switch evt.Kind {
		case EventThoughts:
			thoughts, found = evt.Thoughts, true
		case EventText:
			b.WriteString(evt.Text)
		}
	}
	return thoughts, found, b.String()
}
