package inkwell

import (
	"encoding/json"
	"testing"
)

func TestDocument_Int(t *testing.T) {
	doc := Document{
		"int":    2,
		"int64":  int64(3),
		"float":  4.0,
		"frac":   4.5,
		"number": json.Number("5"),
		"str":    "6",
		"word":   "six",
	}

	tests := []struct {
		key  string
		want int64
		ok   bool
	}{
		{"int", 2, true},
		{"int64", 3, true},
		{"float", 4, true},
		{"frac", 0, false},
		{"number", 5, true},
		{"str", 6, true},
		{"word", 0, false},
		{"missing", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := doc.Int(tt.key)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Int(%q) = (%d, %v), want (%d, %v)", tt.key, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestDocument_Clone(t *testing.T) {
	orig := Document{"product": "banana"}
	c := orig.Clone()
	c["product"] = "apple"

	if orig["product"] != "banana" {
		t.Errorf("clone mutated original: %v", orig)
	}
	if Document(nil).Clone() != nil {
		t.Error("clone of nil should be nil")
	}
}
