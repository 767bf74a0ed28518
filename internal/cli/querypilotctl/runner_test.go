package querypilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	body   []byte
	key    string
	ctype  string
}

func newRecordingServer(t *testing.T, status int, response string) (*httptest.Server, *recordedRequest) {
	t.Helper()
	got := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.key = r.Header.Get("X-Provider-Key")
		got.ctype = r.Header.Get("Content-Type")
		got.body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestRunAskCommand(t *testing.T) {
	srv, got := newRecordingServer(t, http.StatusOK, `{"answer":"The average salary is 66000.","resultRows":[{"avg_salary":66000}]}`)

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"--base-url", srv.URL,
		"--session", "team-a",
		"--provider-key", "sk-test",
		"ask", "--steps", "What", "is", "the", "average", "salary?",
	}, Options{Stdout: &stdout, Stderr: &stderr, Timeout: 2 * time.Second})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if got.method != http.MethodPost || got.path != "/v1/sessions/team-a/ask" {
		t.Fatalf("request = %s %s", got.method, got.path)
	}
	if got.key != "sk-test" {
		t.Fatalf("X-Provider-Key = %q", got.key)
	}
	var payload map[string]any
	if err := json.Unmarshal(got.body, &payload); err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	if payload["question"] != "What is the average salary?" || payload["include_steps"] != true {
		t.Fatalf("payload = %#v", payload)
	}
	if !strings.Contains(stdout.String(), `"avg_salary": 66000`) {
		t.Fatalf("stdout = %s", stdout.String())
	}
}

func TestRunLoadCommand(t *testing.T) {
	srv, got := newRecordingServer(t, http.StatusOK, `{"dataset_id":"ds-1"}`)
	path := filepath.Join(t.TempDir(), "employees.csv")
	if err := os.WriteFile(path, []byte("Name,Salary\nAlice,50000\n"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	code := Run(context.Background(), []string{"--base-url", srv.URL, "load", "--format", "csv", path}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.method != http.MethodPut || got.path != "/v1/sessions/default/dataset" {
		t.Fatalf("request = %s %s", got.method, got.path)
	}
	if got.query != "format=csv&name=employees.csv" {
		t.Fatalf("query = %q", got.query)
	}
	if got.ctype != "application/octet-stream" {
		t.Fatalf("Content-Type = %q", got.ctype)
	}
	if string(got.body) != "Name,Salary\nAlice,50000\n" {
		t.Fatalf("body = %q", got.body)
	}
}

func TestRunLoadMissingFile(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"load", filepath.Join(t.TempDir(), "missing.csv")}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
}

func TestRunSimpleCommands(t *testing.T) {
	tests := []struct {
		args   []string
		method string
		path   string
		query  string
	}{
		{[]string{"health"}, http.MethodGet, "/v1/health", ""},
		{[]string{"ready"}, http.MethodGet, "/v1/ready", ""},
		{[]string{"schema"}, http.MethodGet, "/v1/sessions/default/schema", ""},
		{[]string{"runs", "--limit", "5"}, http.MethodGet, "/v1/sessions/default/runs", "limit=5"},
		{[]string{"run", "run-1"}, http.MethodGet, "/v1/runs/run-1", ""},
		{[]string{"end"}, http.MethodDelete, "/v1/sessions/default", ""},
		{[]string{"objects", "--prefix", "uploads/"}, http.MethodGet, "/v1/objects", "prefix=uploads%2F"},
		{[]string{"load-object", "uploads/a.parquet"}, http.MethodPost, "/v1/sessions/default/dataset/object", ""},
	}
	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			srv, got := newRecordingServer(t, http.StatusOK, `{"status":"ok"}`)
			code := Run(context.Background(), append([]string{"--base-url", srv.URL}, tt.args...), Options{})
			if code != 0 {
				t.Fatalf("exit code = %d", code)
			}
			if got.method != tt.method || got.path != tt.path || got.query != tt.query {
				t.Fatalf("request = %s %s?%s", got.method, got.path, got.query)
			}
		})
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv, _ := newRecordingServer(t, http.StatusConflict, `{"error_code":"NO_DATASET"}`)

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "schema"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "http 409") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	for _, args := range [][]string{{}, {"unknown"}, {"ask"}, {"health", "extra"}} {
		var stderr bytes.Buffer
		code := Run(context.Background(), args, Options{Stderr: &stderr})
		if code != 2 {
			t.Fatalf("args %v: exit code = %d", args, code)
		}
		if !strings.Contains(stderr.String(), "Usage:") {
			t.Fatalf("args %v: expected usage output, got %s", args, stderr.String())
		}
	}
}
