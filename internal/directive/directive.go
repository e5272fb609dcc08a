package directive

import "strings"

const (
	TokenCreatePRD       = "[CREATE_PRD]"
	TokenGenerate        = "[GENERATE]"
	TokenProjectComplete = "[PROJECT_COMPLETE]"
	TokenReviewApproved  = "[REVIEW_APPROVED]"
	TokenReviewRejected  = "[REVIEW_REJECTED]"
)

type Kind string

const (
	KindNone            Kind = ""
	KindCreatePRD       Kind = "create_prd"
	KindGenerate        Kind = "generate"
	KindProjectComplete Kind = "project_complete"
)

type Directive struct {
	Kind    Kind
	Payload string
}

// Parse finds the first recognised directive, in precedence order, anywhere
// in a fully assembled response.
func Parse(text string) Directive {
	for _, candidate := range []struct {
		token string
		kind  Kind
	}{
		{TokenCreatePRD, KindCreatePRD},
		{TokenGenerate, KindGenerate},
		{TokenProjectComplete, KindProjectComplete},
	} {
		if i := strings.Index(text, candidate.token); i >= 0 {
			payload := strings.TrimLeft(text[i+len(candidate.token):], " \t\r\n")
			return Directive{Kind: candidate.kind, Payload: payload}
		}
	}
	return Directive{Kind: KindNone, Payload: text}
}

var titlePrefixes = []string{"# prd:", "**project title:**", "project title:"}

// ExtractTitle returns the project title declared by a requirements document.
func ExtractTitle(prd string) (string, bool) {
	for _, line := range strings.Split(prd, "\n") {
		lower := strings.ToLower(line)
		for _, prefix := range titlePrefixes {
			if !strings.HasPrefix(lower, prefix) {
				continue
			}
			title := strings.TrimSpace(line[len(prefix):])
			if title == "" {
				return "", false
			}
			return title, true
		}
	}
	return "", false
}

type Review struct {
	Approved bool
	Feedback string
}

// ParseReview classifies a reviewer response. raw still carries any thoughts
// block; text is the response with thoughts removed.
func ParseReview(raw, text string) Review {
	if strings.Contains(raw, TokenReviewApproved) {
		return Review{Approved: true}
	}
	return Review{Feedback: strings.TrimSpace(strings.Replace(text, TokenReviewRejected, "", 1))}
}
