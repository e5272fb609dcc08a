package streamparse

import (
	"strings"
	"testing"
)

type result struct {
	thoughts    string
	hasThoughts bool
	files       map[string]File
	order       []string
	text        string
}

func run(mode Mode, limit int, chunks []string) result {
	p := New(Options{Mode: mode, ThoughtsLimit: limit})
	out := result{files: map[string]File{}}
	apply := func(events []Event) {
		for _, evt := range events {
			switch evt.Kind {
			case EventThoughts:
				out.thoughts, out.hasThoughts = evt.Thoughts, true
			case EventFile:
				if _, ok := out.files[evt.File.Name]; !ok {
					out.order = append(out.order, evt.File.Name)
				}
				out.files[evt.File.Name] = evt.File
			case EventText:
				out.text += evt.Text
			}
		}
	}
	for _, c := range chunks {
		apply(p.Feed(c))
	}
	apply(p.Flush())
	return out
}

func chars(s string) []string {
	out := make([]string, 0, len(s))
	for i := 0; i < len(s); i++ {
		out = append(out, s[i:i+1])
	}
	return out
}

func splitEvery(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	return append(out, s)
}

const wellFormed = "[THINK]\nPlan: index page plus styles.\n[/THINK]\n" +
	"`[START_FILE:index.html]`\n<!doctype html>\n<script>const a = [1, 2];</script>\n`[END_FILE:index.html]`\n" +
	"[START_FILE:css/style.css]\n:root { --primary: #333; }\n[END_FILE:css/style.css]\n"

func TestParser_ExtractsThoughtsAndFiles(t *testing.T) {
	got := run(ModeFiles, 0, []string{wellFormed})
	if !got.hasThoughts || got.thoughts != "Plan: index page plus styles." {
		t.Fatalf("unexpected thoughts: %q", got.thoughts)
	}
	if strings.Join(got.order, ",") != "index.html,css/style.css" {
		t.Fatalf("unexpected file order: %v", got.order)
	}
	index := got.files["index.html"]
	if index.Content != "\n<!doctype html>\n<script>const a = [1, 2];</script>\n" {
		t.Fatalf("unexpected index content: %q", index.Content)
	}
	if index.Type != "html" {
		t.Fatalf("unexpected type: %s", index.Type)
	}
	css := got.files["css/style.css"]
	if css.Content != "\n:root { --primary: #333; }\n" || css.Type != "css" {
		t.Fatalf("unexpected css file: %+v", css)
	}
}

func TestParser_ChunkBoundaryIndependence(t *testing.T) {
	whole := run(ModeFiles, 0, []string{wellFormed})
	for _, chunks := range [][]string{chars(wellFormed), splitEvery(wellFormed, 3), splitEvery(wellFormed, 7), splitEvery(wellFormed, 13)} {
		got := run(ModeFiles, 0, chunks)
		if got.thoughts != whole.thoughts {
			t.Fatalf("thoughts differ: %q vs %q", got.thoughts, whole.thoughts)
		}
		if len(got.files) != len(whole.files) {
			t.Fatalf("file count differs: %d vs %d", len(got.files), len(whole.files))
		}
		for name, f := range whole.files {
			if got.files[name].Content != f.Content {
				t.Fatalf("content for %s differs with %d chunks:\n%q\n%q", name, len(chunks), got.files[name].Content, f.Content)
			}
		}
	}
}

func TestParser_ImplicitCloseOnNextStart(t *testing.T) {
	src := "[START_FILE:a.html]<p>a</p>\n[START_FILE:b.js]let b = 1;\n[END_FILE:b.js]"
	for _, chunks := range [][]string{{src}, chars(src)} {
		got := run(ModeFiles, 0, chunks)
		if got.files["a.html"].Content != "<p>a</p>\n" {
			t.Fatalf("unexpected implicit-close content: %q", got.files["a.html"].Content)
		}
		if got.files["b.js"].Content != "let b = 1;\n" {
			t.Fatalf("unexpected b.js content: %q", got.files["b.js"].Content)
		}
	}
}

func TestParser_EndOfStreamFlush(t *testing.T) {
	src := "[START_FILE:js/app.js]console.log(items[0]);\nconst x = ["
	for _, chunks := range [][]string{{src}, chars(src)} {
		got := run(ModeFiles, 0, chunks)
		if got.files["js/app.js"].Content != "console.log(items[0]);\nconst x = [" {
			t.Fatalf("unexpected flushed content: %q", got.files["js/app.js"].Content)
		}
	}
}

func TestParser_EndMarkerMustMatchOpenName(t *testing.T) {
	src := "[START_FILE:a.html]x[END_FILE:b.html]y[END_FILE:a.html]"
	got := run(ModeFiles, 0, chars(src))
	if got.files["a.html"].Content != "x[END_FILE:b.html]y" {
		t.Fatalf("mismatched end marker must stay content, got %q", got.files["a.html"].Content)
	}
}

func TestParser_SnapshotsAreCumulative(t *testing.T) {
	p := New(Options{Mode: ModeFiles})
	p.Feed(strings.Repeat(" ", 201))
	var snapshots []string
	for _, c := range []string{"[START_FILE:a.txt]hello ", "wor", "ld[END_FILE:a.txt]"} {
		for _, evt := range p.Feed(c) {
			if evt.Kind == EventFile {
				snapshots = append(snapshots, evt.File.Content)
			}
		}
	}
	want := []string{"hello ", "hello wor", "hello world"}
	if strings.Join(snapshots, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected snapshots: %q", snapshots)
	}
}

func TestParser_PartialMarkerIsNotContent(t *testing.T) {
	p := New(Options{Mode: ModeFiles})
	p.Feed(strings.Repeat(" ", 201) + "[START_FILE:a.txt]abc")
	events := p.Feed("[END_FI")
	for _, evt := range events {
		if strings.Contains(evt.File.Content, "[") {
			t.Fatalf("partial marker leaked into content: %q", evt.File.Content)
		}
	}
	open, ok := p.OpenFile()
	if !ok || open.Content != "abc" {
		t.Fatalf("unexpected open file: %+v %v", open, ok)
	}
}

func TestParser_ThoughtsAbandonedPastLimit(t *testing.T) {
	src := strings.Repeat("x", 210) + "[START_FILE:a.txt]body[END_FILE:a.txt]"
	got := run(ModeFiles, 0, chars(src))
	if got.hasThoughts {
		t.Fatal("no thoughts expected")
	}
	if got.files["a.txt"].Content != "body" {
		t.Fatalf("unexpected content: %q", got.files["a.txt"].Content)
	}
}

func TestParser_ShortStreamWithoutThoughtsStillParsesFiles(t *testing.T) {
	src := "[START_FILE:a.txt]body[END_FILE:a.txt]"
	got := run(ModeFiles, 0, []string{src})
	if got.files["a.txt"].Content != "body" {
		t.Fatalf("unexpected content: %q", got.files["a.txt"].Content)
	}
}

func TestParser_ConfigurableLimit(t *testing.T) {
	p := New(Options{Mode: ModeText, ThoughtsLimit: 10})
	events := p.Feed("hello there, friend")
	if len(events) != 1 || events[0].Kind != EventText {
		t.Fatalf("expected text once limit exceeded, got %+v", events)
	}
}

func TestParser_TextModeStripsThoughts(t *testing.T) {
	src := "[THINK] greet the user [/THINK]\n\nHello! What site would you like?"
	whole := run(ModeText, 0, []string{src})
	split := run(ModeText, 0, chars(src))
	for _, got := range []result{whole, split} {
		if got.thoughts != "greet the user" {
			t.Fatalf("unexpected thoughts: %q", got.thoughts)
		}
		if got.text != "Hello! What site would you like?" {
			t.Fatalf("unexpected text: %q", got.text)
		}
	}
}

func TestParser_TextModeStrayCloseIsText(t *testing.T) {
	got := run(ModeText, 0, []string{"oops [/THINK] hi"})
	if got.hasThoughts {
		t.Fatal("stray close must not produce thoughts")
	}
	if got.text != "oops [/THINK] hi" {
		t.Fatalf("unexpected text: %q", got.text)
	}
}

func TestSplitThoughts(t *testing.T) {
	thoughts, ok, rest := SplitThoughts("[THINK]audit plan[/THINK]\n[REVIEW_APPROVED]", 0)
	if !ok || thoughts != "audit plan" || rest != "[REVIEW_APPROVED]" {
		t.Fatalf("unexpected split: %q %v %q", thoughts, ok, rest)
	}
	_, ok, rest = SplitThoughts("plain answer", 0)
	if ok || rest != "plain answer" {
		t.Fatalf("unexpected split without thoughts: %v %q", ok, rest)
	}
}

func TestFileType(t *testing.T) {
	for name, want := range map[string]string{"index.html": "html", "js/app.min.js": "js", "README": "README"} {
		if got := FileType(name); got != want {
			t.Fatalf("FileType(%q)=%q want %q", name, got, want)
		}
	}
}
