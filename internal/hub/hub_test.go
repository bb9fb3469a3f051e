package hub

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeCheckpointTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "default"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string]string{
		"config.json":                 `{"format_version":1}`,
		"default/config.json":         `{"config":{"type":"lora"}}`,
		"default/weights.safetensors": "binary",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestPushUploadsEveryFile(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotNames []string
	var gotWeights string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/repos/user/model/upload" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		// Field names carry the relative paths; filenames collapse to
		// their base on parse, so only the fields identify nested files.
		for field := range r.MultipartForm.File {
			gotNames = append(gotNames, field)
		}
		if fhs := r.MultipartForm.File["default/weights.safetensors"]; len(fhs) == 1 {
			f, err := fhs[0].Open()
			if err != nil {
				t.Errorf("open part: %v", err)
				return
			}
			defer func() { _ = f.Close() }()
			b, err := io.ReadAll(f)
			if err != nil {
				t.Errorf("read part: %v", err)
				return
			}
			gotWeights = string(b)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := writeCheckpointTree(t)
	c := NewClient(srv.URL)
	if err := c.Push(context.Background(), dir, "user/model", "secret"); err != nil {
		t.Fatalf("push: %v", err)
	}

	if gotAuth != "Bearer secret" {
		t.Fatalf("authorization got %q", gotAuth)
	}
	sort.Strings(gotNames)
	want := []string{"config.json", "default/config.json", "default/weights.safetensors"}
	if diff := cmp.Diff(want, gotNames); diff != "" {
		t.Fatalf("uploaded files (-want +got):\n%s", diff)
	}
	if gotWeights != "binary" {
		t.Fatalf("nested file content got %q, want %q", gotWeights, "binary")
	}
}

func TestPushSurfacesServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.Push(context.Background(), writeCheckpointTree(t), "user/model", "wrong")
	if err == nil {
		t.Fatalf("expected error for 401")
	}
}
