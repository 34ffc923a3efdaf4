package tsdriver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hatlesswizard/ucg/pkg/cstevent"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writeTemp: %v", err)
	}
	return path
}

func TestDriverParsePython(t *testing.T) {
	d := New(DefaultLimits())
	src := "def f(a):\n    x = a\n    return x\n"
	path := writeTemp(t, "f.py", src)

	stream, err := d.Parse(cstevent.FileMeta{Path: "f.py", RealPath: path, Language: "python"})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if !stream.OK {
		t.Fatalf("expected OK stream, got Err=%q", stream.Err)
	}
	if len(stream.Events) == 0 {
		t.Fatal("expected a non-empty event stream")
	}

	valid, dropped := cstevent.Validate(stream.Events)
	if dropped != 0 {
		t.Errorf("expected every driver-produced event to validate, %d dropped", dropped)
	}
	if len(valid) != len(stream.Events) {
		t.Errorf("expected all %d events to be valid, got %d", len(stream.Events), len(valid))
	}

	var sawFuncDef bool
	var sawIdentTextX bool
	depth := 0
	for _, ev := range stream.Events {
		switch ev.Kind {
		case cstevent.Enter:
			if ev.Type == "function_definition" {
				sawFuncDef = true
			}
			depth++
		case cstevent.Exit:
			depth--
		case cstevent.Token:
			if ev.Type == "identifier" && ev.Text == "x" {
				sawIdentTextX = true
			}
			// An identifier token's grammar Type must differ from its Text;
			// this is the whole point of carrying both fields.
			if ev.Type == "identifier" && ev.Text == ev.Type {
				t.Errorf("identifier token Text unexpectedly equals its grammar Type %q", ev.Type)
			}
		}
	}
	if depth != 0 {
		t.Errorf("unbalanced Enter/Exit events, final depth=%d", depth)
	}
	if !sawFuncDef {
		t.Error("expected a function_definition ENTER event")
	}
	if !sawIdentTextX {
		t.Error("expected an identifier token with literal Text \"x\"")
	}
}

func TestDriverUnregisteredLanguage(t *testing.T) {
	d := New(DefaultLimits())
	path := writeTemp(t, "f.unknown", "whatever")
	stream, err := d.Parse(cstevent.FileMeta{Path: "f.unknown", RealPath: path, Language: "cobol"})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if stream.OK {
		t.Fatal("expected OK=false for an unregistered language")
	}
	if stream.Err == "" {
		t.Error("expected a non-empty Err describing the unregistered language")
	}
}

func TestDriverMissingFile(t *testing.T) {
	d := New(DefaultLimits())
	stream, err := d.Parse(cstevent.FileMeta{Path: "gone.py", RealPath: "/nonexistent/gone.py", Language: "python"})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if stream.OK {
		t.Fatal("expected OK=false for a file that cannot be read")
	}
}

func TestDriverParseBytesMatchesParse(t *testing.T) {
	d := New(DefaultLimits())
	src := "func main() {\n\tx := 1\n\t_ = x\n}\n"
	path := writeTemp(t, "f.go", src)

	viaFile, err := d.Parse(cstevent.FileMeta{Path: "f.go", RealPath: path, Language: "go"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	viaBytes, err := d.ParseBytes(cstevent.FileMeta{Path: "f.go", Language: "go"}, []byte(src))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if !viaFile.OK || !viaBytes.OK {
		t.Fatalf("expected both parses to succeed, file.OK=%v bytes.OK=%v", viaFile.OK, viaBytes.OK)
	}
	if len(viaFile.Events) != len(viaBytes.Events) {
		t.Fatalf("expected identical event counts for identical source, got %d vs %d", len(viaFile.Events), len(viaBytes.Events))
	}
	for i := range viaFile.Events {
		a, b := viaFile.Events[i], viaBytes.Events[i]
		if a.Kind != b.Kind || a.Type != b.Type || a.Text != b.Text || a.ByteStart != b.ByteStart || a.ByteEnd != b.ByteEnd {
			t.Fatalf("event %d diverged between Parse and ParseBytes: %+v vs %+v", i, a, b)
		}
	}
}

func TestDriverDeterministic(t *testing.T) {
	d := New(DefaultLimits())
	src := "class C:\n    def m(self):\n        return 1\n"
	path := writeTemp(t, "c.py", src)

	first, err := d.Parse(cstevent.FileMeta{Path: "c.py", RealPath: path, Language: "python"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	second, err := d.Parse(cstevent.FileMeta{Path: "c.py", RealPath: path, Language: "python"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(first.Events) != len(second.Events) {
		t.Fatalf("expected deterministic event count across runs, got %d vs %d", len(first.Events), len(second.Events))
	}
	for i := range first.Events {
		if first.Events[i] != second.Events[i] {
			t.Fatalf("event %d diverged across repeated parses: %+v vs %+v", i, first.Events[i], second.Events[i])
		}
	}
}
