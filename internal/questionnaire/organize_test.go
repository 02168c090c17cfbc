package questionnaire

import (
	"encoding/json"
	"reflect"
	"testing"
)

func displayNos(qs []Question) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.DisplayNo
	}
	return out
}

func ids(qs []Question) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.ID
	}
	return out
}

func TestOrganizeNumbering(t *testing.T) {
	input := []Question{
		{ID: "q1"},
		{ID: "q2", ParentID: "q1"},
		{ID: "q3", ParentID: "q2"},
		{ID: "q4"},
	}

	got, err := Organize(input, Options{})
	if err != nil {
		t.Fatalf("Organize() error = %v", err)
	}

	wantNos := []string{"1", "1(a)", "1(a).1", "2"}
	if !reflect.DeepEqual(displayNos(got), wantNos) {
		t.Fatalf("displayNo sequence = %v, want %v", displayNos(got), wantNos)
	}
	wantIDs := []string{"q1", "q2", "q3", "q4"}
	if !reflect.DeepEqual(ids(got), wantIDs) {
		t.Fatalf("id order = %v, want %v", ids(got), wantIDs)
	}
}

func TestOrganizeSiblingLetters(t *testing.T) {
	input := []Question{
		{ID: "root"},
		{ID: "a", ParentID: "root"},
		{ID: "b", ParentID: "root"},
		{ID: "c", ParentID: "root"},
		{ID: "b1", ParentID: "b"},
		{ID: "b2", ParentID: "b"},
		{ID: "b1x", ParentID: "b1"},
	}

	got, err := Organize(input, Options{})
	if err != nil {
		t.Fatalf("Organize() error = %v", err)
	}

	want := map[string]string{
		"root": "1",
		"a":    "1(a)",
		"b":    "1(b)",
		"c":    "1(c)",
		"b1":   "1(b).1",
		"b2":   "1(b).2",
		"b1x":  "1(b).1.1",
	}
	for _, q := range got {
		if q.DisplayNo != want[q.ID] {
			t.Errorf("question %s: displayNo = %q, want %q", q.ID, q.DisplayNo, want[q.ID])
		}
	}
}

func TestOrganizeDeterministic(t *testing.T) {
	input := []Question{
		{ID: "q1"},
		{ID: "q3", ParentID: "q1"},
		{ID: "q2"},
		{ID: "q4", ParentID: "q2"},
		{ID: "q5", ParentID: "q4"},
	}

	first, err := Organize(input, Options{})
	if err != nil {
		t.Fatalf("Organize() error = %v", err)
	}
	second, err := Organize(input, Options{})
	if err != nil {
		t.Fatalf("Organize() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("two runs over the same input produced different output")
	}
}

func TestOrganizeDepthFirstContiguity(t *testing.T) {
	input := []Question{
		{ID: "r1"},
		{ID: "r2"},
		{ID: "r1a", ParentID: "r1"},
		{ID: "r1b", ParentID: "r1"},
		{ID: "r1a1", ParentID: "r1a"},
		{ID: "r2a", ParentID: "r2"},
	}

	got, err := Organize(input, Options{})
	if err != nil {
		t.Fatalf("Organize() error = %v", err)
	}

	// Every descendant of r1 must appear after r1 and before r2.
	pos := make(map[string]int, len(got))
	for i, q := range got {
		pos[q.ID] = i
	}
	for _, id := range []string{"r1a", "r1b", "r1a1"} {
		if pos[id] < pos["r1"] || pos[id] > pos["r2"] {
			t.Fatalf("descendant %s at %d escapes the r1 subtree (r1=%d, r2=%d)", id, pos[id], pos["r1"], pos["r2"])
		}
	}
	if pos["r1a1"] != pos["r1a"]+1 {
		t.Fatalf("r1a1 must immediately follow r1a, got positions %d and %d", pos["r1a1"], pos["r1a"])
	}
}

func TestOrganizeOrphanPolicies(t *testing.T) {
	input := []Question{
		{ID: "q1"},
		{ID: "lost", ParentID: "missing"},
	}

	dropped, err := Organize(input, Options{Orphans: OrphanDrop})
	if err != nil {
		t.Fatalf("Organize(drop) error = %v", err)
	}
	if len(dropped) != 1 || dropped[0].ID != "q1" {
		t.Fatalf("drop policy should omit the orphan, got %v", ids(dropped))
	}

	promoted, err := Organize(input, Options{Orphans: OrphanPromote})
	if err != nil {
		t.Fatalf("Organize(promote) error = %v", err)
	}
	if !reflect.DeepEqual(displayNos(promoted), []string{"1", "2"}) {
		t.Fatalf("promote policy should number the orphan as a root, got %v", displayNos(promoted))
	}

	if _, err := Organize(input, Options{Orphans: OrphanError}); err == nil {
		t.Fatal("error policy should reject the orphan")
	}
}

func TestOrganizeDoesNotModifyInput(t *testing.T) {
	input := []Question{
		{ID: "q1", Content: `{"label":"Scope 1 emissions","answer":"42"}`},
	}
	if _, err := Organize(input, Options{}); err != nil {
		t.Fatalf("Organize() error = %v", err)
	}
	if input[0].DisplayNo != "" || input[0].Answer != nil {
		t.Fatalf("input mutated: %+v", input[0])
	}
}

func TestEnrichContentLiftsAnswer(t *testing.T) {
	q := EnrichContent(Question{
		ID:      "q1",
		Content: `{"label":"Scope 1 emissions","answer":{"value":42},"options":["a","b"]}`,
	})
	if string(q.Answer) != `{"value":42}` {
		t.Fatalf("answer = %s", q.Answer)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(q.Content), &fields); err != nil {
		t.Fatalf("rewritten content is not valid JSON: %v", err)
	}
	if _, ok := fields["answer"]; ok {
		t.Fatal("answer key not stripped from content")
	}
	if _, ok := fields["label"]; !ok {
		t.Fatal("unrelated content fields must survive")
	}
}

func TestEnrichContentIdempotent(t *testing.T) {
	once := EnrichContent(Question{ID: "q1", Content: `{"label":"x","answer":"y"}`})
	twice := EnrichContent(once)
	if twice.Content != once.Content || string(twice.Answer) != string(once.Answer) {
		t.Fatalf("second enrichment changed the record: %+v vs %+v", once, twice)
	}
}

func TestEnrichContentMalformed(t *testing.T) {
	raw := `{"label": oops`
	q := EnrichContent(Question{ID: "q1", Content: raw})
	if q.Content != raw {
		t.Fatalf("malformed content must pass through untouched, got %q", q.Content)
	}
	if q.Answer != nil {
		t.Fatal("malformed content must not produce an answer")
	}
}

func TestEnrichContentNonObject(t *testing.T) {
	q := EnrichContent(Question{ID: "q1", Content: "plain text question"})
	if q.Content != "plain text question" || q.Answer != nil {
		t.Fatalf("non-object content must be untouched, got %+v", q)
	}
}

func TestLetterLabel(t *testing.T) {
	cases := map[int]string{0: "a", 1: "b", 25: "z", 26: "aa", 27: "ab", 51: "az", 52: "ba"}
	for n, want := range cases {
		if got := letterLabel(n); got != want {
			t.Errorf("letterLabel(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestParseOrphanPolicy(t *testing.T) {
	if p, err := ParseOrphanPolicy(""); err != nil || p != OrphanPromote {
		t.Fatalf("empty policy should default to promote, got %v %v", p, err)
	}
	if p, err := ParseOrphanPolicy("Drop"); err != nil || p != OrphanDrop {
		t.Fatalf("policy parse should be case-insensitive, got %v %v", p, err)
	}
	if _, err := ParseOrphanPolicy("recycle"); err == nil {
		t.Fatal("unknown policy must error")
	}
}
