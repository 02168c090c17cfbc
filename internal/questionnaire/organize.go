// Package questionnaire holds the pure question-tree logic: depth-first
// ordering with display numbering, and best-effort answer extraction from the
// opaque content blob.
package questionnaire

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
)

// AssignedUser is the per-question assignee view carried through the cache
// and the API.
type AssignedUser struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CompanyID string `json:"companyId"`
}

// Question is a single questionnaire record. ParentID is empty for roots;
// Content is an opaque JSON string that may embed an "answer" key and option
// metadata. DisplayNo is computed by Organize and never persisted.
type Question struct {
	ID        string          `json:"id"`
	ParentID  string          `json:"parentId,omitempty"`
	Type      string          `json:"type"`
	Content   string          `json:"content"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Theme     string          `json:"theme,omitempty"`
	Category  string          `json:"category,omitempty"`
	Assignees []AssignedUser  `json:"assignedUsers"`
	DisplayNo string          `json:"displayNo,omitempty"`
}

// OrphanPolicy decides what happens to a question whose ParentID names no
// record in the input set.
type OrphanPolicy string

const (
	// OrphanDrop silently omits the orphan and its subtree, matching the
	// historical behavior.
	OrphanDrop OrphanPolicy = "drop"
	// OrphanPromote treats the orphan as a root, keeping its input-order
	// position among the roots.
	OrphanPromote OrphanPolicy = "promote"
	// OrphanError fails the whole call naming the first orphan found.
	OrphanError OrphanPolicy = "error"
)

func ParseOrphanPolicy(raw string) (OrphanPolicy, error) {
	switch OrphanPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case OrphanDrop:
		return OrphanDrop, nil
	case OrphanPromote, "":
		return OrphanPromote, nil
	case OrphanError:
		return OrphanError, nil
	default:
		return "", fmt.Errorf("unknown orphan policy %q", raw)
	}
}

type Options struct {
	Orphans OrphanPolicy
}

// Organize returns a new slice ordered depth-first so that every parent
// immediately precedes its descendants, each record annotated with a
// DisplayNo: roots "1", "2", ... in input order; direct children "1(a)",
// "1(b)", ...; deeper levels append ".1", ".2", ... to the parent label.
// Content enrichment (see EnrichContent) is applied to every emitted record.
// The input slice is not modified.
func Organize(questions []Question, opts Options) ([]Question, error) {
	policy := opts.Orphans
	if policy == "" {
		policy = OrphanPromote
	}

	byID := make(map[string]int, len(questions))
	for i, q := range questions {
		byID[q.ID] = i
	}

	children := make(map[string][]int)
	var roots []int
	for i, q := range questions {
		if q.ParentID == "" {
			roots = append(roots, i)
			continue
		}
		if _, ok := byID[q.ParentID]; !ok {
			switch policy {
			case OrphanError:
				return nil, fmt.Errorf("question %s references missing parent %s", q.ID, q.ParentID)
			case OrphanPromote:
				roots = append(roots, i)
			case OrphanDrop:
				// never visited
			}
			continue
		}
		children[q.ParentID] = append(children[q.ParentID], i)
	}

	ordered := make([]Question, 0, len(questions))
	for rootNo, idx := range roots {
		ordered = appendSubtree(ordered, questions, children, idx, strconv.Itoa(rootNo+1), 0)
	}
	return ordered, nil
}

func appendSubtree(ordered, questions []Question, children map[string][]int, idx int, label string, depth int) []Question {
	q := questions[idx]
	q.DisplayNo = label
	ordered = append(ordered, EnrichContent(q))
	for childNo, childIdx := range children[q.ID] {
		ordered = appendSubtree(ordered, questions, children, childIdx, childLabel(label, depth+1, childNo), depth+1)
	}
	return ordered
}

// childLabel computes the label for the childNo-th (0-based) child at the
// given depth under the parent label.
func childLabel(parent string, depth, childNo int) string {
	if depth == 1 {
		return parent + "(" + letterLabel(childNo) + ")"
	}
	return parent + "." + strconv.Itoa(childNo+1)
}

// letterLabel yields a, b, ..., z, aa, ab, ... for 0-based indexes.
func letterLabel(n int) string {
	label := ""
	for {
		label = string(rune('a'+n%26)) + label
		n = n/26 - 1
		if n < 0 {
			return label
		}
	}
}

// EnrichContent lifts an embedded "answer" value out of a JSON-object-shaped
// Content string onto the record's Answer field, stripping it from the
// re-serialized Content. Best effort: malformed content is logged and passed
// through untouched, and a record whose content holds no "answer" key is
// returned as-is, so repeated enrichment is a no-op.
func EnrichContent(q Question) Question {
	trimmed := strings.TrimSpace(q.Content)
	if !strings.HasPrefix(trimmed, "{") {
		return q
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		log.Printf("questionnaire: malformed content on question %s: %v", q.ID, err)
		return q
	}

	answer, ok := fields["answer"]
	if !ok {
		return q
	}
	delete(fields, "answer")

	rewritten, err := json.Marshal(fields)
	if err != nil {
		log.Printf("questionnaire: re-serialize content on question %s: %v", q.ID, err)
		return q
	}

	q.Answer = answer
	q.Content = string(rewritten)
	return q
}
