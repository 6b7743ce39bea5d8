package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func runCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"You are unauthorized!"}`))
			return
		}
		switch r.URL.Path {
		case "/generate/text":
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte("a fox story"))
		case "/generate/image":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"upstream request failed"}`))
		case "/records":
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTextCommandStreams(t *testing.T) {
	srv := newAPI(t)

	out, _, err := runCommand(t, "--server", srv.URL, "--token", "good", "--type-delay", "0s", "text", "tell", "me", "a", "story")
	if err != nil {
		t.Fatalf("text command: %v", err)
	}
	if strings.TrimSpace(out) != "a fox story" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestTextCommandValidation(t *testing.T) {
	srv := newAPI(t)

	_, errOut, err := runCommand(t, "--server", srv.URL, "text", "hi")
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	if strings.TrimSpace(errOut) != "Prompt must be at least 7 characters" {
		t.Fatalf("unexpected stderr %q", errOut)
	}
}

func TestCommandsUnauthorized(t *testing.T) {
	srv := newAPI(t)

	_, errOut, err := runCommand(t, "--server", srv.URL, "text", "a red fox")
	if err == nil {
		t.Fatalf("expected failure")
	}
	if strings.TrimSpace(errOut) != "You are unauthorized! Login before generating result" {
		t.Fatalf("unexpected stderr %q", errOut)
	}
}

func TestImageCommandShowsServerError(t *testing.T) {
	srv := newAPI(t)

	_, errOut, err := runCommand(t, "--server", srv.URL, "--token", "good", "image", "a red fox")
	if err == nil {
		t.Fatalf("expected failure")
	}
	if strings.TrimSpace(errOut) != "upstream request failed" {
		t.Fatalf("unexpected stderr %q", errOut)
	}
}

func TestRecordsCommandEmpty(t *testing.T) {
	srv := newAPI(t)

	out, _, err := runCommand(t, "--server", srv.URL, "--token", "good", "records")
	if err != nil {
		t.Fatalf("records command: %v", err)
	}
	if strings.TrimSpace(out) != "no generations yet" {
		t.Fatalf("unexpected output %q", out)
	}
}
