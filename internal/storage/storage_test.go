package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestObjectName(t *testing.T) {
	at := time.Unix(1700000000, 0)
	if got := ObjectName("abc-1", "audio/ogg", at); got != "recordings/abc-1/1700000000.ogg" {
		t.Fatalf("ObjectName() = %q", got)
	}
	if got := ObjectName("../x", "audio/wav", at); got != "recordings/___x/1700000000.wav" {
		t.Fatalf("ObjectName() = %q", got)
	}
}

func TestRecordingUploaderWritesLocalFile(t *testing.T) {
	dir := t.TempDir()
	local, err := NewLocalUploader(dir, "http://localhost:8080/")
	if err != nil {
		t.Fatalf("NewLocalUploader() error = %v", err)
	}
	up := NewRecordingUploader(local)
	up.now = func() time.Time { return time.Unix(42, 0) }

	url, err := up.Upload(context.Background(), []byte("OggS"), "audio/ogg", "s1")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if url != "http://localhost:8080/recordings/s1/42.ogg" {
		t.Fatalf("url = %q", url)
	}
	data, err := os.ReadFile(filepath.Join(dir, "recordings", "s1", "42.ogg"))
	if err != nil || string(data) != "OggS" {
		t.Fatalf("stored = %q, %v", data, err)
	}
}

func TestRecordingUploaderRejectsEmptyBlob(t *testing.T) {
	up := NewRecordingUploader(nil)
	if _, err := up.Upload(context.Background(), nil, "audio/ogg", "s1"); !errors.Is(err, ErrEmptyBlob) {
		t.Fatalf("Upload() error = %v, want ErrEmptyBlob", err)
	}
}

func TestLocalUploaderStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	local, err := NewLocalUploader(dir, "/files")
	if err != nil {
		t.Fatalf("NewLocalUploader() error = %v", err)
	}
	url, err := local.Upload(context.Background(), "../../escape.txt", "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if url != "/files/escape.txt" {
		t.Fatalf("url = %q", url)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); err != nil {
		t.Fatalf("file not inside dir: %v", err)
	}
}
