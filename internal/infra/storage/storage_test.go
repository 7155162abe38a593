package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalPutWritesUnderDir(t *testing.T) {
	dir := t.TempDir()
	store := NewLocal(dir, "https://cdn.example.com/uploads/")

	url, err := store.Put(context.Background(), "quiz-images/abc.png", "image/png", strings.NewReader("png-bytes"), 9)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if url != "https://cdn.example.com/uploads/quiz-images/abc.png" {
		t.Fatalf("unexpected url %q", url)
	}
	data, err := os.ReadFile(filepath.Join(dir, "quiz-images", "abc.png"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestLocalPutStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	store := NewLocal(dir, "")

	url, err := store.Put(context.Background(), "../../escape.jpg", "image/jpeg", strings.NewReader("x"), 1)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if url != "/uploads/escape.jpg" {
		t.Fatalf("unexpected url %q", url)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.jpg")); err != nil {
		t.Fatalf("expected file inside upload dir: %v", err)
	}
}

func TestMinIOPublicURL(t *testing.T) {
	store, err := NewMinIO(MinIOConfig{Endpoint: "localhost:9000", AccessKey: "k", SecretKey: "s", Bucket: "medquiz"})
	if err != nil {
		t.Fatalf("new minio: %v", err)
	}
	if store.baseURL != "http://localhost:9000/medquiz" {
		t.Fatalf("unexpected base url %q", store.baseURL)
	}
}
