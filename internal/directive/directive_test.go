package directive

import "testing"

func TestParse_CreatePRD(t *testing.T) {
	d := Parse("[CREATE_PRD]\n# PRD: Cozy Corner Bakery\n\n## 1. Objectives\n...")
	if d.Kind != KindCreatePRD {
		t.Fatalf("unexpected kind: %q", d.Kind)
	}
	if d.Payload != "# PRD: Cozy Corner Bakery\n\n## 1. Objectives\n..." {
		t.Fatalf("unexpected payload: %q", d.Payload)
	}
}

func TestParse_PrecedenceAndPosition(t *testing.T) {
	d := Parse("Sure thing.\n[GENERATE] Build a bakery site. Mention [PROJECT_COMPLETE] later")
	if d.Kind != KindGenerate {
		t.Fatalf("expected generate, got %q", d.Kind)
	}
	if d.Payload != "Build a bakery site. Mention [PROJECT_COMPLETE] later" {
		t.Fatalf("unexpected payload: %q", d.Payload)
	}
	d = Parse("[GENERATE] x [CREATE_PRD] y")
	if d.Kind != KindCreatePRD || d.Payload != "y" {
		t.Fatalf("create prd must win, got %+v", d)
	}
}

func TestParse_ProjectCompleteAndNone(t *testing.T) {
	d := Parse("[PROJECT_COMPLETE]   ")
	if d.Kind != KindProjectComplete || d.Payload != "" {
		t.Fatalf("unexpected directive: %+v", d)
	}
	d = Parse("What colours do you like?")
	if d.Kind != KindNone || d.Payload != "What colours do you like?" {
		t.Fatalf("unexpected plain directive: %+v", d)
	}
}

func TestExtractTitle(t *testing.T) {
	cases := []struct {
		prd   string
		title string
		ok    bool
	}{
		{"# PRD: The Cozy Corner Bakery Website\n## 1", "The Cozy Corner Bakery Website", true},
		{"intro\n**Project Title:** Happy Paws\n", "Happy Paws", true},
		{"project title: lowercase works", "lowercase works", true},
		{"  # PRD: indented does not count", "", false},
		{"# PRD:   \nbody", "", false},
		{"## Objectives only", "", false},
	}
	for _, tc := range cases {
		title, ok := ExtractTitle(tc.prd)
		if title != tc.title || ok != tc.ok {
			t.Fatalf("ExtractTitle(%q)=(%q,%v) want (%q,%v)", tc.prd, title, ok, tc.title, tc.ok)
		}
	}
}

func TestParseReview(t *testing.T) {
	r := ParseReview("[THINK]plan[/THINK][REVIEW_APPROVED]", "[REVIEW_APPROVED]")
	if !r.Approved {
		t.Fatal("expected approval")
	}
	r = ParseReview("[REVIEW_REJECTED]\n- index.html: missing viewport", "[REVIEW_REJECTED]\n- index.html: missing viewport")
	if r.Approved || r.Feedback != "- index.html: missing viewport" {
		t.Fatalf("unexpected rejection: %+v", r)
	}
	r = ParseReview("looks mostly fine", "looks mostly fine")
	if r.Approved || r.Feedback != "looks mostly fine" {
		t.Fatalf("missing token is a rejection: %+v", r)
	}
}
