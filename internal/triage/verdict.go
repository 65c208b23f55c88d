package triage

import "strings"

// Verdict is the classifier's decision for a message
type Verdict string

const (
	VerdictIgnore  Verdict = "ignore"
	VerdictProcess Verdict = "process"
)

// ParseVerdict maps free classifier text onto a Verdict. Anything that does
// not mention "ignore" is processed.
func ParseVerdict(text string) Verdict {
	if strings.Contains(strings.ToLower(text), "ignore") {
		return VerdictIgnore
	}
	return VerdictProcess
}

// DraftStatus records whether the draft adapter confirmed creation
type DraftStatus string

const (
	DraftConfirmed   DraftStatus = "confirmed"
	DraftUnconfirmed DraftStatus = "unconfirmed"
)

var draftSuccessPhrases = []string{
	"draft created",
	"draft id",
	"successfully",
	"created draft",
	"draft has been",
	"id:",
	"draft_id",
	"success",
}

// ParseDraftConfirmation scans adapter text for a success phrase.
// Unconfirmed drafts are still counted as created.
func ParseDraftConfirmation(text string) DraftStatus {
	lower := strings.ToLower(text)
	for _, phrase := range draftSuccessPhrases {
		if strings.Contains(lower, phrase) {
			return DraftConfirmed
		}
	}
	return DraftUnconfirmed
}

// ReplySubject prefixes subject with "Re: " unless it already carries one.
func ReplySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}
