package hashutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStringIsStable(t *testing.T) {
	a := String("package main\n")
	b := String("package main\n")
	if a != b {
		t.Fatalf("expected stable digest, got %s != %s", a, b)
	}
	if a == String("package main") {
		t.Fatal("expected different content to hash differently")
	}
}

func TestFileMatchesString(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	content := "package a\n\nfunc F() {}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := File(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := String(content); got != want {
		t.Fatalf("File() = %s, want %s", got, want)
	}
}

func TestFileStreamsLargeContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")

	// Bigger than the 8 KiB read buffer so streaming is exercised.
	content := make([]byte, blockSize*3+17)
	for i := range content {
		content[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := File(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := String(string(content)); got != want {
		t.Fatalf("File() = %s, want %s", got, want)
	}
}
