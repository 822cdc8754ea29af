package services

import (
	"reflect"
	"testing"
)

func TestNeighborhoodMiddleOfList(t *testing.T) {
	watchlist := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}

	got := Neighborhood("C", watchlist)
	want := []string{"D", "E", "F", "G", "H", "B", "A"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Neighborhood = %v, want %v", got, want)
	}
}

func TestNeighborhoodWrapsAround(t *testing.T) {
	watchlist := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}

	// Last symbol: ahead targets wrap to the front.
	got := Neighborhood("J", watchlist)
	want := []string{"A", "B", "C", "D", "E", "I", "H"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Neighborhood = %v, want %v", got, want)
	}

	// First symbol: behind targets wrap to the back.
	got = Neighborhood("A", watchlist)
	want = []string{"B", "C", "D", "E", "F", "J", "I"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Neighborhood = %v, want %v", got, want)
	}
}

func TestNeighborhoodSmallList(t *testing.T) {
	// With few symbols ahead and behind overlap; duplicates collapse and
	// the current symbol never appears.
	got := Neighborhood("B", []string{"A", "B", "C"})
	for _, symbol := range got {
		if symbol == "B" {
			t.Fatal("current symbol in its own neighborhood")
		}
	}
	seen := map[string]bool{}
	for _, symbol := range got {
		if seen[symbol] {
			t.Fatalf("duplicate %s in neighborhood %v", symbol, got)
		}
		seen[symbol] = true
	}
	if len(got) != 2 {
		t.Fatalf("neighborhood = %v, want both other symbols once", got)
	}
}

func TestNeighborhoodEdgeCases(t *testing.T) {
	if got := Neighborhood("A", []string{"A"}); got != nil {
		t.Fatalf("single-symbol watchlist = %v, want nil", got)
	}
	if got := Neighborhood("Z", []string{"A", "B"}); got != nil {
		t.Fatalf("absent symbol = %v, want nil", got)
	}
	if got := Neighborhood("A", nil); got != nil {
		t.Fatalf("empty watchlist = %v, want nil", got)
	}
}
