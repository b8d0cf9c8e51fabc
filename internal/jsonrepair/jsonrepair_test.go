package jsonrepair

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseOrRepair(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  any
	}{
		{"valid object", `{"a":1}`, map[string]any{"a": float64(1)}},
		{"valid array", `[1,2]`, []any{float64(1), float64(2)}},
		{"prose around object", `Here you go: {"a":"b"} hope it helps`, map[string]any{"a": "b"}},
		{"code fence", "```json\n{\"a\": true}\n```", map[string]any{"a": true}},
		{"trailing comma object", `{"a":1,"b":2,}`, map[string]any{"a": float64(1), "b": float64(2)}},
		{"trailing comma array", "[1, 2,\n]", []any{float64(1), float64(2)}},
		{"nested trailing commas", `{"a":[1,],"b":{"c":3,},}`, map[string]any{"a": []any{float64(1)}, "b": map[string]any{"c": float64(3)}}},
		{"comma inside string kept", `{"a":"x,}",}`, map[string]any{"a": "x,}"}},
		{"escaped quote in string", `{"a":"say \"hi\",]",}`, map[string]any{"a": `say "hi",]`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOrRepair(tt.input)
			if err != nil {
				t.Fatalf("ParseOrRepair(%q) error: %v", tt.input, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseOrRepair(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseOrRepair_Failures(t *testing.T) {
	if _, err := ParseOrRepair("no json here"); err == nil {
		t.Fatal("expected error for input without JSON")
	}
	if _, err := Repair("plain text"); !errors.Is(err, ErrNoJSON) {
		t.Errorf("Repair error = %v, want ErrNoJSON", err)
	}
	if _, err := ParseOrRepair(`{"a": }`); err == nil {
		t.Error("expected error for unrepairable object")
	}
}

func TestParseOrRepair_Pure(t *testing.T) {
	input := `{"a":1,}`
	first, err := ParseOrRepair(input)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ParseOrRepair(input)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ between calls: %v vs %v", first, second)
	}
}
