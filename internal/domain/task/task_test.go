package task

import (
	"errors"
	"sort"
	"testing"

	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/domain"
)

func TestKeyIDRoundTrip(t *testing.T) {
	keys := []Key{
		{Row: 1, Col: 1},
		{Row: 42, Col: 7},
		{Row: 1000, Col: 26},
	}
	for _, k := range keys {
		got, err := ParseID(k.ID())
		if err != nil {
			t.Fatalf("ParseID(%q): unexpected error: %v", k.ID(), err)
		}
		if got != k {
			t.Errorf("round trip: got %+v, want %+v", got, k)
		}
	}
}

func TestParseIDRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "3", "3.", ".2", "a.b", "3.2.1x", "-1.2", "0.5"} {
		if _, err := ParseID(s); err == nil {
			t.Errorf("ParseID(%q): expected error, got nil", s)
		} else if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("ParseID(%q): expected ErrValidation, got %v", s, err)
		}
	}
}

func TestKeyValidate(t *testing.T) {
	if err := (Key{Row: 1, Col: 1}).Validate(); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
	for _, k := range []Key{{Row: 0, Col: 1}, {Row: 1, Col: 0}, {Row: -3, Col: 2}} {
		if err := k.Validate(); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("Validate(%+v): expected ErrValidation, got %v", k, err)
		}
	}
}

func TestKeyOrdering(t *testing.T) {
	keys := []Key{
		{Row: 9, Col: 1},
		{Row: 2, Col: 3},
		{Row: 5, Col: 1},
		{Row: 2, Col: 1},
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	want := []Key{{Row: 2, Col: 1}, {Row: 2, Col: 3}, {Row: 5, Col: 1}, {Row: 9, Col: 1}}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("position %d: got %+v, want %+v", i, keys[i], want[i])
		}
	}
}
