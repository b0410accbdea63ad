package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPostJSON(t *testing.T) {
	var got map[string]string
	var contentType, agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		agent = r.Header.Get("User-Agent")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(time.Second, "feedrelay-test")
	status, err := c.PostJSON(context.Background(), srv.URL, map[string]string{"Content": "hello"})
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if status != http.StatusAccepted {
		t.Errorf("expected 202, got %d", status)
	}
	if got["Content"] != "hello" {
		t.Errorf("unexpected body: %v", got)
	}
	if contentType != "application/json" {
		t.Errorf("expected JSON content type, got %q", contentType)
	}
	if agent != "feedrelay-test" {
		t.Errorf("expected user agent, got %q", agent)
	}
}

func TestGetHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("Accept")))
	}))
	defer srv.Close()

	c := New(0, "")
	if c.GetTimeout() != 30*time.Second {
		t.Errorf("expected default timeout, got %v", c.GetTimeout())
	}
	resp, err := c.Get(context.Background(), srv.URL, map[string]string{"Accept": "application/rss+xml"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "application/rss+xml" {
		t.Errorf("header not forwarded: %q", b)
	}
}
