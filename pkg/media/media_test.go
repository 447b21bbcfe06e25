package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestFetch_Basic verifies a small download round-trips
func TestFetch_Basic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprint(w, "png-bytes")
	}))
	defer server.Close()

	payload, err := Fetch(context.Background(), server.URL+"/files/cat.png", 1024, nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(payload.Data) != "png-bytes" {
		t.Errorf("data = %q", payload.Data)
	}
	if payload.ContentType != "image/png" {
		t.Errorf("content type = %q", payload.ContentType)
	}
	if payload.Filename != "cat.png" {
		t.Errorf("filename = %q", payload.Filename)
	}
}

// TestFetch_DeclaredTooLarge verifies the Content-Length pre-check
func TestFetch_DeclaredTooLarge(t *testing.T) {
	body := strings.Repeat("x", 100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	_, err := Fetch(context.Background(), server.URL, 10, nil)
	if !errors.Is(err, ErrSizeLimit) {
		t.Errorf("expected ErrSizeLimit, got %v", err)
	}
}

// TestFetch_ActualTooLarge verifies the byte-count re-check when the
// server lies about its length
func TestFetch_ActualTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Transfer-Encoding", "chunked")
		fmt.Fprint(w, strings.Repeat("x", 100))
	}))
	defer server.Close()

	_, err := Fetch(context.Background(), server.URL, 10, nil)
	if !errors.Is(err, ErrSizeLimit) {
		t.Errorf("expected ErrSizeLimit, got %v", err)
	}
}

// TestFetch_Headers verifies custom headers reach the server
func TestFetch_Headers(t *testing.T) {
	var gotAuth, gotRequestedWith string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestedWith = r.Header.Get("X-Requested-With")
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	_, err := Fetch(context.Background(), server.URL, 0, map[string]string{"Authorization": "Bearer tok"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotRequestedWith != "XMLHttpRequest" {
		t.Errorf("X-Requested-With = %q", gotRequestedWith)
	}
}

// TestFetch_ErrorStatus verifies non-2xx responses fail
func TestFetch_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	if _, err := Fetch(context.Background(), server.URL, 0, nil); err == nil {
		t.Error("expected error for 403 response")
	}
}

// TestSave_ContentAddressed verifies identical bytes land on one path
func TestSave_ContentAddressed(t *testing.T) {
	first, err := Save([]byte("same-bytes"), "a.png")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	second, err := Save([]byte("same-bytes"), "b.png")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if first.Path != second.Path {
		t.Errorf("identical content should share a path: %q vs %q", first.Path, second.Path)
	}
	if !strings.HasPrefix(first.URL, "file://") {
		t.Errorf("saved URL = %q", first.URL)
	}
	if !strings.HasSuffix(first.Path, ".png") {
		t.Errorf("path should keep the extension, got %q", first.Path)
	}
}

// TestSave_DifferentContent verifies distinct bytes get distinct paths
func TestSave_DifferentContent(t *testing.T) {
	first, err := Save([]byte("one"), "f.txt")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	second, err := Save([]byte("two"), "f.txt")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if first.Path == second.Path {
		t.Error("different content must not collide")
	}
}

// TestFilenameFromURL verifies sanitization and fallbacks
func TestFilenameFromURL(t *testing.T) {
	cases := map[string]string{
		"https://mm.example.com/files/report.pdf":        "report.pdf",
		"https://mm.example.com/files/we ird$name.png":   "we_ird_name.png",
		"https://mm.example.com/":                        "media",
		"://bad":                                         "media",
		"https://mm.example.com/files/cat.png?download=1": "cat.png",
	}
	for url, want := range cases {
		if got := FilenameFromURL(url); got != want {
			t.Errorf("FilenameFromURL(%q) = %q, want %q", url, got, want)
		}
	}
}
