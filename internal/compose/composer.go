// Package compose builds the natural-language steering block injected
// ahead of each generation attempt. It is pure: the same kind, strictness,
// recommendation, and failure history always produce the same block, and
// the number of constraints never shrinks as strictness rises.
package compose

import (
	"fmt"
	"strings"

	"github.com/ablatext/ablatext/pkg/models"
)

// MaxStrictness is the strictness ceiling
const MaxStrictness = 5

// baseGuidance is the lenient level-1 steering per content kind
func baseGuidance(kind models.ContentKind) []string {
	switch kind {
	case models.KindShortForm:
		return []string{
			"Write naturally, as a knowledgeable supplier would speak to a customer.",
			"Keep it brief and concrete; skip throat-clearing openers.",
		}
	case models.KindStructuredList:
		return []string{
			"Write naturally, as a knowledgeable supplier would speak to a customer.",
			"Make each bullet a specific, practical point rather than a generality.",
		}
	default:
		return []string{
			"Write naturally, as a knowledgeable supplier would speak to a customer.",
			"Ground every claim in the material's actual properties; avoid filler.",
		}
	}
}

// styleConstraints kick in at strictness 2
var styleConstraints = []string{
	"Vary sentence length and structure; do not fall into a repeating rhythm.",
	"Prefer active voice and direct statements.",
	"Use specific numbers and process details where the brief provides them.",
}

// Compose produces the steering block for one attempt. failurePhrases is
// the accumulated detector feedback and evaluator tendencies from the
// job's earlier failed attempts; at the ceiling every one of them becomes
// an explicit negative constraint and the recommended word count band is
// stated as a target.
func Compose(kind models.ContentKind, strictness int, rec *models.Recommendation, failurePhrases []string) (string, error) {
	constraints, err := buildConstraints(kind, strictness, rec, failurePhrases)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Writing requirements:\n")
	for _, c := range constraints {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func buildConstraints(kind models.ContentKind, strictness int, rec *models.Recommendation, failurePhrases []string) ([]string, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown content kind %q", kind)
	}
	if strictness < 1 || strictness > MaxStrictness {
		return nil, fmt.Errorf("strictness %d out of range [1, %d]", strictness, MaxStrictness)
	}

	var constraints []string
	constraints = append(constraints, baseGuidance(kind)...)

	if strictness >= 2 {
		constraints = append(constraints, styleConstraints...)
	}

	if strictness >= 3 {
		phrases := dedup(failurePhrases)
		// Negative constraints ramp up with strictness: a third of the
		// observed problems at level 3, two thirds at 4, all of them at 5.
		include := len(phrases) * (strictness - 2) / 3
		if strictness == MaxStrictness {
			include = len(phrases)
		} else if include == 0 && len(phrases) > 0 {
			include = 1
		}
		for _, phrase := range phrases[:include] {
			constraints = append(constraints, fmt.Sprintf("Avoid: %s.", phrase))
		}
	}

	if strictness >= 4 && rec != nil {
		constraints = append(constraints, fmt.Sprintf(
			"Target length: %d to %d words.",
			rec.Params.WordCountMin, rec.Params.WordCountMax))
	}

	if strictness >= MaxStrictness {
		constraints = append(constraints,
			"Do not reuse a phrase or sentence opener more than once.",
			"Every sentence must carry new information; delete anything that restates.")
	}

	return constraints, nil
}

// ConstraintCount returns how many constraints Compose will emit for the
// given inputs. Counted from the assembled list, not re-parsed from the
// rendered text, so a failure phrase containing list-like newlines cannot
// skew it. Exposed so the monotonicity property is directly testable.
func ConstraintCount(kind models.ContentKind, strictness int, rec *models.Recommendation, failurePhrases []string) (int, error) {
	constraints, err := buildConstraints(kind, strictness, rec, failurePhrases)
	if err != nil {
		return 0, err
	}
	return len(constraints), nil
}

func dedup(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, item := range items {
		key := strings.ToLower(strings.TrimSpace(item))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(item))
	}
	return out
}
