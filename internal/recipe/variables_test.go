package recipe

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestVariables_Resolve(t *testing.T) {
	vars := Variables{
		"n":    json.RawMessage(`42`),
		"text": json.RawMessage(`"hi"`),
	}

	tests := []struct {
		name    string
		params  string
		want    string
		wantErr error
	}{
		{"no references", `{"a":1}`, `{"a":1}`, nil},
		{"absent", ``, ``, nil},
		{"top level", `{"x":{"__var":"n"}}`, `{"x":42}`, nil},
		{"nested and arrays", `{"o":{"l":[{"__var":"text"},2]}}`, `{"o":{"l":["hi",2]}}`, nil},
		{"unknown", `{"x":{"__var":"missing"}}`, ``, ErrUnknownVariable},
		{"extra key", `{"x":{"__var":"n","y":1}}`, ``, ErrInvalidVariable},
		{"non-string name", `{"x":{"__var":5}}`, ``, ErrInvalidVariable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := vars.Resolve(json.RawMessage(tt.params))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Resolve() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestVariables_ResolveKeepsNumberText(t *testing.T) {
	vars := Variables{"big": json.RawMessage(`12345678901234567890`)}
	got, err := vars.Resolve(json.RawMessage(`{"v":{"__var":"big"},"f":1.50}`))
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"f":1.50,"v":12345678901234567890}`; string(got) != want {
		t.Errorf("Resolve() = %s, want %s", got, want)
	}
}

func TestReferences(t *testing.T) {
	got, err := References(json.RawMessage(`{"a":{"__var":"y"},"b":[{"__var":"x"},{"__var":"y"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"x", "y"}, got); diff != "" {
		t.Errorf("References() mismatch (-want +got):\n%s", diff)
	}
}

func TestVariables_Validate(t *testing.T) {
	good := Variables{"n": json.RawMessage(`1.5`), "s": json.RawMessage(`"x"`)}
	if err := good.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	for _, raw := range []string{`true`, `null`, `[1]`, `{"a":1}`} {
		bad := Variables{"v": json.RawMessage(raw)}
		if err := bad.Validate(); !errors.Is(err, ErrInvalidVariable) {
			t.Errorf("Validate(%s) error = %v, want ErrInvalidVariable", raw, err)
		}
	}
}
