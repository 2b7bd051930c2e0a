package dedup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAdmit(t *testing.T) {
	s := New(nil)

	if !s.Admit("id:1") {
		t.Fatal("first admit should succeed")
	}
	if s.Admit("id:1") {
		t.Error("second admit of the same identity should fail")
	}
	if !s.Admit("id:2") {
		t.Error("distinct identity should be admitted")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestSeededFromCheckpoint(t *testing.T) {
	s := New([]string{"id:1", "h:abc"})

	if s.Admit("id:1") || s.Admit("h:abc") {
		t.Error("seeded identities must never be admitted again")
	}
	if !s.Seen("h:abc") {
		t.Error("Seen should report seeded identity")
	}
	if !s.Admit("id:3") {
		t.Error("unseen identity should be admitted")
	}
}

func TestForget(t *testing.T) {
	s := New([]string{"id:1"})
	s.Forget("id:1")

	if s.Seen("id:1") {
		t.Error("forgotten identity still reported as seen")
	}
	if !s.Admit("id:1") {
		t.Error("forgotten identity should be admitted again")
	}
}

func TestIdentitiesSorted(t *testing.T) {
	s := New([]string{"id:3", "h:ff", "id:1"})
	s.Admit("id:2")

	want := []string{"h:ff", "id:1", "id:2", "id:3"}
	if diff := cmp.Diff(want, s.Identities()); diff != "" {
		t.Errorf("Identities() mismatch (-want +got):\n%s", diff)
	}
}
