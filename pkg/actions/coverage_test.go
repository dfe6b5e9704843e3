package actions

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/systemstart/gridrun/pkg/api"
)

func coverageContext(t *testing.T, url string) *Context {
	t.Helper()
	work := t.TempDir()
	if err := os.WriteFile(filepath.Join(work, "coverage.xml"), []byte("<coverage/>"), 0600); err != nil {
		t.Fatal(err)
	}

	return &Context{
		WorkDir: work,
		With:    map[string]string{"file": "coverage.xml"},
		Mapping: &api.RunnerMapping{
			Coverage: api.CoverageConfig{URL: url, Token: "secret"},
		},
		Meta: Meta{
			Run:      "20260823-120000-abcd1234",
			Workflow: "unit-tests",
			Job:      "unit",
			Combo:    api.Combination{"os": "ubuntu-latest", "interpreter": "3.8"},
		},
	}
}

func TestCoverage_UploadsReport(t *testing.T) {
	var (
		gotBody    []byte
		gotHeaders http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	action, err := New(api.ActionCoverageUpload)
	if err != nil {
		t.Fatal(err)
	}

	if err := action.Run(context.Background(), coverageContext(t, srv.URL)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if string(gotBody) != "<coverage/>" {
		t.Fatalf("unexpected body: %q", gotBody)
	}
	if gotHeaders.Get("Authorization") != "Bearer secret" {
		t.Fatalf("unexpected authorization header: %q", gotHeaders.Get("Authorization"))
	}
	if gotHeaders.Get("X-Gridrun-Job") != "unit" {
		t.Fatalf("unexpected job header: %q", gotHeaders.Get("X-Gridrun-Job"))
	}
	if gotHeaders.Get("X-Gridrun-Combination") != "interpreter=3.8 os=ubuntu-latest" {
		t.Fatalf("unexpected combination header: %q", gotHeaders.Get("X-Gridrun-Combination"))
	}
}

func TestCoverage_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	action, err := New(api.ActionCoverageUpload)
	if err != nil {
		t.Fatal(err)
	}

	err = action.Run(context.Background(), coverageContext(t, srv.URL))
	if err == nil {
		t.Fatal("expected error for failing service")
	}
	if !strings.Contains(err.Error(), "coverage service returned") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCoverage_MissingReport(t *testing.T) {
	action, err := New(api.ActionCoverageUpload)
	if err != nil {
		t.Fatal(err)
	}

	actx := coverageContext(t, "http://localhost:1")
	actx.With["file"] = "missing.xml"

	err = action.Run(context.Background(), actx)
	if err == nil {
		t.Fatal("expected error for missing report file")
	}
	if !strings.Contains(err.Error(), "reading coverage report") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCoverage_NoEndpointConfigured(t *testing.T) {
	action, err := New(api.ActionCoverageUpload)
	if err != nil {
		t.Fatal(err)
	}

	actx := coverageContext(t, "")

	err = action.Run(context.Background(), actx)
	if err == nil {
		t.Fatal("expected error without a configured endpoint")
	}
	if !strings.Contains(err.Error(), "no coverage endpoint configured") {
		t.Fatalf("unexpected error: %v", err)
	}
}
