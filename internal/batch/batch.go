// Package batch combines several short subjects into one generation call
// and splits the combined response back into per-subject text. Batching
// exists to satisfy the detection service's minimum input length; the
// markers are keyed by subject identity, not position, so extraction never
// depends on the model preserving order.
package batch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ablatext/ablatext/pkg/models"
)

const (
	// MinSubjects and MaxSubjects bound batch size; beyond five subjects
	// marker extraction gets unreliable
	MinSubjects = 2
	MaxSubjects = 5
)

// Subject is one item of a batch: its catalog identity and the brief text
// that describes it in the prompt.
type Subject struct {
	ID    string
	Brief string
}

// MarkerOpen returns the opening delimiter for a subject's section
func MarkerOpen(id string) string {
	return fmt.Sprintf("[ITEM: %s]", id)
}

// MarkerClose returns the closing delimiter for a subject's section
func MarkerClose(id string) string {
	return fmt.Sprintf("[/ITEM: %s]", id)
}

// Eligible reports whether a batch is both warranted and sufficient:
// batching only pays off when one subject's typical output would fall
// below the detector's minimum input length, and only helps when the
// combined output of the batch clears it. Kinds that clear the minimum
// on their own are generated singly.
func Eligible(typicalLength, minInputLength, subjects int) bool {
	if subjects < MinSubjects {
		return false
	}
	if typicalLength >= minInputLength {
		return false
	}
	return typicalLength*subjects >= minInputLength
}

// BuildPrompt embeds each subject's brief inside its marker pair and
// appends the shared content-kind instructions once. The model is told to
// reproduce the markers around each subject's text.
func BuildPrompt(subjects []Subject, kindInstructions string) (string, error) {
	if len(subjects) < MinSubjects || len(subjects) > MaxSubjects {
		return "", fmt.Errorf("batch needs %d to %d subjects (got %d)", MinSubjects, MaxSubjects, len(subjects))
	}
	seen := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		if s.ID == "" {
			return "", fmt.Errorf("batch subject with empty id")
		}
		if _, dup := seen[s.ID]; dup {
			return "", fmt.Errorf("duplicate subject id %q in batch", s.ID)
		}
		seen[s.ID] = struct{}{}
	}

	var b strings.Builder
	b.WriteString("Write one piece of text for each of the following subjects. ")
	b.WriteString("Wrap each subject's text in exactly the markers shown, and write nothing outside them.\n\n")
	for _, s := range subjects {
		b.WriteString(s.Brief)
		b.WriteString("\n")
		b.WriteString(MarkerOpen(s.ID))
		b.WriteString("\n(write this subject's text here)\n")
		b.WriteString(MarkerClose(s.ID))
		b.WriteString("\n\n")
	}
	b.WriteString(kindInstructions)
	return b.String(), nil
}

// Extract parses per-subject text back out of a combined response. A
// subject succeeds only when its marker pair appears exactly once: zero
// matches means the model dropped it, two or more is ambiguous duplication
// and nothing is trusted. One subject's failure never affects another's
// extraction, but the caller must treat any failure as a structural
// failure of the whole attempt.
func Extract(rawOutput string, subjectIDs []string) map[string]models.SubjectText {
	results := make(map[string]models.SubjectText, len(subjectIDs))
	for _, id := range subjectIDs {
		pattern := regexp.MustCompile(
			`(?s)` + regexp.QuoteMeta(MarkerOpen(id)) + `(.*?)` + regexp.QuoteMeta(MarkerClose(id)))
		matches := pattern.FindAllStringSubmatch(rawOutput, -1)
		if len(matches) != 1 {
			results[id] = models.SubjectText{Success: false}
			continue
		}
		results[id] = models.SubjectText{
			Text:    strings.TrimSpace(matches[0][1]),
			Success: true,
		}
	}
	return results
}

// Complete reports whether every subject extracted successfully
func Complete(results map[string]models.SubjectText) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return len(results) > 0
}
