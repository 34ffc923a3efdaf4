package provenance

import "testing"

func TestStableIDDeterministic(t *testing.T) {
	salt := []byte("salt")
	a := StableID(salt, "scope", "f.py", "deadbeef", "10")
	b := StableID(salt, "scope", "f.py", "deadbeef", "10")
	if a != b {
		t.Fatalf("StableID not deterministic: %q != %q", a, b)
	}
}

func TestStableIDDiffersByStructuralKey(t *testing.T) {
	salt := []byte("salt")
	a := StableID(salt, "scope", "f.py", "deadbeef", "10")
	b := StableID(salt, "scope", "f.py", "deadbeef", "11")
	if a == b {
		t.Fatal("StableID collided across distinct structural keys")
	}
}

func TestStableIDDiffersBySalt(t *testing.T) {
	a := StableID([]byte("salt-a"), "scope", "f.py", "deadbeef", "10")
	b := StableID([]byte("salt-b"), "scope", "f.py", "deadbeef", "10")
	if a == b {
		t.Fatal("StableID ignored the salt")
	}
}

func TestProvenanceValid(t *testing.T) {
	tmpl := NewTemplate("f.py", "deadbeef", "python", "grammar-1", "run-1", "cfg-1", nil)
	p := tmpl.WithSpan(0, 10, 1, 2)
	if !p.Valid() {
		t.Fatal("expected a fully populated Provenance to be valid")
	}

	missingPath := p
	missingPath.Path = ""
	if missingPath.Valid() {
		t.Fatal("expected empty Path to invalidate Provenance")
	}

	badSpan := tmpl.WithSpan(10, 5, 1, 2)
	if badSpan.Valid() {
		t.Fatal("expected byte_end < byte_start to invalidate Provenance")
	}

	badLines := tmpl.WithSpan(0, 10, 5, 1)
	if badLines.Valid() {
		t.Fatal("expected line_end < line_start to invalidate Provenance")
	}
}

func TestBlobSHADeterministic(t *testing.T) {
	a, err := BlobSHA([]byte("package main\n"))
	if err != nil {
		t.Fatalf("BlobSHA: %v", err)
	}
	b, err := BlobSHA([]byte("package main\n"))
	if err != nil {
		t.Fatalf("BlobSHA: %v", err)
	}
	if a != b {
		t.Fatalf("BlobSHA not deterministic: %q != %q", a, b)
	}
	c, err := BlobSHA([]byte("package other\n"))
	if err != nil {
		t.Fatalf("BlobSHA: %v", err)
	}
	if a == c {
		t.Fatal("BlobSHA collided across distinct content")
	}
}
