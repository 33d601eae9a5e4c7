package idgen

import (
	"sort"
	"strings"
	"testing"
)

func TestUUIDv7Sortable(t *testing.T) {
	// WHAT: Successive UUIDv7 IDs sort in creation order.
	// WHY: Run and metric listings order by id.
	gen := UUIDv7()
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = gen()
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatal("UUIDv7 ids are not sorted")
	}
	if _, err := Parse(ids[0]); err != nil {
		t.Fatalf("parse: %v", err)
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("run_", UUIDv7())
	id := gen()
	if !strings.HasPrefix(id, "run_") {
		t.Fatalf("id %q missing prefix", id)
	}
	if _, err := Parse(strings.TrimPrefix(id, "run_")); err != nil {
		t.Fatalf("suffix not a UUID: %v", err)
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("obj-")
	if got := gen(); got != "obj-1" {
		t.Fatalf("first = %q", got)
	}
	if got := gen(); got != "obj-2" {
		t.Fatalf("second = %q", got)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatal("expected error")
	}
}
