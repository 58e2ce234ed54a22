package store

import (
	"strings"
	"testing"
)

func TestNullIfEmpty(t *testing.T) {
	if got := nullIfEmpty(""); got != nil {
		t.Errorf("expected nil for empty string, got %v", *got)
	}
	if got := nullIfEmpty("x"); got == nil || *got != "x" {
		t.Errorf("expected pointer to %q, got %v", "x", got)
	}
}

func TestNullIfZero(t *testing.T) {
	if got := nullIfZero(0); got != nil {
		t.Errorf("expected nil for zero, got %v", *got)
	}
	if got := nullIfZero(1.5); got == nil || *got != 1.5 {
		t.Errorf("expected pointer to 1.5, got %v", got)
	}
}

func TestDeref(t *testing.T) {
	if deref(nil) != "" {
		t.Error("expected empty string for nil pointer")
	}
	s := "hi"
	if deref(&s) != "hi" {
		t.Error("expected dereferenced value")
	}
}

func TestBuildFilteredFilePathsQueryNoFilters(t *testing.T) {
	query, args := buildFilteredFilePathsQuery("", []bool{true, true, true, true, true})
	if len(args) != 0 {
		t.Fatalf("expected no args when every star state is enabled, got %v", args)
	}
	if strings.Contains(query, "rating") {
		t.Errorf("expected no rating predicate when all stars enabled, got %q", query)
	}
}

func TestBuildFilteredFilePathsQueryTextOnly(t *testing.T) {
	query, args := buildFilteredFilePathsQuery("sunset", []bool{true, true, true, true, true})
	if len(args) != 1 || args[0] != "%sunset%" {
		t.Fatalf("expected single LIKE arg, got %v", args)
	}
	if !strings.Contains(query, "file_path LIKE $1") {
		t.Errorf("expected a LIKE predicate, got %q", query)
	}
}

func TestBuildFilteredFilePathsQueryNoStarsSelected(t *testing.T) {
	query, _ := buildFilteredFilePathsQuery("", []bool{false, false, false, false, false})
	if !strings.Contains(query, "1=0") {
		t.Errorf("expected an always-false predicate when no stars are selected, got %q", query)
	}
}

func TestBuildFilteredFilePathsQueryPartialStars(t *testing.T) {
	query, args := buildFilteredFilePathsQuery("", []bool{true, false, true, false, false})
	if len(args) != 1 {
		t.Fatalf("expected one ANY() arg, got %v", args)
	}
	ratings, ok := args[0].([]int)
	if !ok || len(ratings) != 2 || ratings[0] != 0 || ratings[1] != 2 {
		t.Errorf("expected [0 2], got %v", args[0])
	}
	if !strings.Contains(query, "rating = ANY($1::int[])") {
		t.Errorf("expected an ANY() predicate, got %q", query)
	}
}
