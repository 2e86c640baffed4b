package param

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestQualify(t *testing.T) {
	tests := []struct {
		name, ns, want string
	}{
		{"enabled", "/tango", "/tango/enabled"},
		{"enabled", "tango", "/tango/enabled"},
		{"enabled", "/tango/", "/tango/enabled"},
		{"enabled", "", "/enabled"},
		{"enabled", "/", "/enabled"},
		{"retry_count", "/robots/rover1", "/robots/rover1/retry_count"},
	}
	for _, tt := range tests {
		if got := Qualify(tt.name, tt.ns); got != tt.want {
			t.Errorf("Qualify(%q, %q) = %q, want %q", tt.name, tt.ns, got, tt.want)
		}
	}
}

// TestQualifyDeterministic verifies repeated calls agree.
func TestQualifyDeterministic(t *testing.T) {
	for _, ns := range []string{"", "/", "a", "/a/b/", "//x//"} {
		for _, n := range []string{"p", "device_name", "x.y"} {
			if a, b := Qualify(n, ns), Qualify(n, ns); a != b {
				t.Errorf("Qualify(%q, %q) not deterministic: %q vs %q", n, ns, a, b)
			}
		}
	}
}

func TestParseType(t *testing.T) {
	tests := map[string]Type{
		"boolean":       Bool,
		"bool":          Bool,
		"int_as_string": IntAsString,
		"Integer":       IntAsString,
		"int":           IntAsString,
		"string":        String,
		" STRING ":      String,
	}
	for in, want := range tests {
		got, err := ParseType(in)
		if err != nil {
			t.Errorf("ParseType(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseType(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseType("float"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("ParseType(float) error = %v, want ErrUnknownType", err)
	}
}

func TestTypeTextRoundTrip(t *testing.T) {
	for _, typ := range []Type{Bool, IntAsString, String} {
		b, err := typ.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", typ, err)
		}
		var back Type
		if err := back.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", b, err)
		}
		if back != typ {
			t.Errorf("round trip %v -> %q -> %v", typ, b, back)
		}
	}
	if _, err := Type(0).MarshalText(); !errors.Is(err, ErrUnknownType) {
		t.Errorf("MarshalText(0) error = %v, want ErrUnknownType", err)
	}
}

func TestNewSchemaValidation(t *testing.T) {
	if _, err := NewSchema(Spec{Name: "a", Type: Bool}, Spec{Name: "a", Type: String}); err == nil {
		t.Error("expected error for duplicate name")
	}
	if _, err := NewSchema(Spec{Name: "/ns/a", Type: Bool}); err == nil {
		t.Error("expected error for qualified name")
	}
	if _, err := NewSchema(Spec{Name: "", Type: Bool}); err == nil {
		t.Error("expected error for empty name")
	}
	_, err := NewSchema(Spec{Name: "a", Type: Type(9)})
	var ute *UnknownTypeError
	if !errors.As(err, &ute) {
		t.Fatalf("error = %v, want *UnknownTypeError", err)
	}
	if ute.Name != "a" {
		t.Errorf("UnknownTypeError.Name = %q, want %q", ute.Name, "a")
	}
}

func TestSchemaImmutable(t *testing.T) {
	in := []Spec{{Name: "a", Type: Bool}, {Name: "b", Type: String}}
	s := MustSchema(in...)
	in[0].Name = "changed"
	got := s.Specs()
	got[1].Name = "also-changed"

	want := []Spec{{Name: "a", Type: Bool}, {Name: "b", Type: String}}
	if diff := cmp.Diff(want, s.Specs()); diff != "" {
		t.Errorf("schema mutated (-want +got):\n%s", diff)
	}
	if sp, ok := s.Lookup("b"); !ok || sp.Type != String {
		t.Errorf("Lookup(b) = %v, %v", sp, ok)
	}
}

func TestLoadSchemaFormats(t *testing.T) {
	want := []Spec{
		{Name: "enabled", Type: Bool},
		{Name: "retry_count", Type: IntAsString},
		{Name: "device_name", Type: String},
	}
	files := map[string]string{
		"schema.toml": `
[[parameter]]
name = "enabled"
type = "boolean"

[[parameter]]
name = "retry_count"
type = "int_as_string"

[[parameter]]
name = "device_name"
type = "string"
`,
		"schema.yaml": `
parameters:
  - name: enabled
    type: boolean
  - name: retry_count
    type: int_as_string
  - name: device_name
    type: string
`,
		"schema.json": `{"parameters":[
  {"name":"enabled","type":"boolean"},
  {"name":"retry_count","type":"int_as_string"},
  {"name":"device_name","type":"string"}]}`,
	}

	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		s, err := LoadSchema(path)
		if err != nil {
			t.Fatalf("LoadSchema(%s): %v", name, err)
		}
		if diff := cmp.Diff(want, s.Specs()); diff != "" {
			t.Errorf("LoadSchema(%s) mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestLoadSchemaUnknownType(t *testing.T) {
	_, err := ParseSchema([]byte(`
[[parameter]]
name = "ratio"
type = "float"
`), ".toml")
	var ute *UnknownTypeError
	if !errors.As(err, &ute) {
		t.Fatalf("error = %v, want *UnknownTypeError", err)
	}
	if ute.Name != "ratio" || ute.Tag != "float" {
		t.Errorf("UnknownTypeError = %+v", ute)
	}
}

func TestLoadSchemaUnsupportedExt(t *testing.T) {
	if _, err := ParseSchema([]byte("x"), ".ini"); err == nil {
		t.Error("expected error for .ini")
	}
}
