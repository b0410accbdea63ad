package main

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type received struct {
	At      time.Time `json:"at"`
	Content string    `json:"content"`
	Status  int       `json:"status"`
}

type sandbox struct {
	failEvery int
	logger    *zap.Logger

	mu    sync.Mutex
	posts int
	log   []received
}

func newSandbox(failEvery int, logger *zap.Logger) *sandbox {
	return &sandbox{failEvery: failEvery, logger: logger}
}

func (s *sandbox) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /feed", s.feed)
	mux.HandleFunc("POST /webhook", s.webhook)
	mux.HandleFunc("GET /messages", s.messages)
	mux.HandleFunc("DELETE /messages", s.reset)
	return mux
}

// feed serves an RSS document. ?count=N controls the number of items and
// ?prefix= their titles, so a run can be pushed over the volume ceiling.
func (s *sandbox) feed(w http.ResponseWriter, r *http.Request) {
	count := 4
	if v, err := strconv.Atoi(r.URL.Query().Get("count")); err == nil && v >= 0 {
		count = min(v, 5000)
	}
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "Sample update"
	}
	prefix = escapeXML(prefix)
	base := escapeXML("http://" + r.Host)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	b.WriteString(`<rss version="2.0"><channel><title>feedrelay sandbox</title>`)
	fmt.Fprintf(&b, `<link>%s/</link><lastBuildDate>%s</lastBuildDate>`, base, time.Now().Format(time.RFC1123Z))
	pub := time.Date(2025, 8, 25, 10, 30, 0, 0, time.UTC)
	for i := 1; i <= count; i++ {
		fmt.Fprintf(&b, `<item><title>%s %d</title><link>%s/items/%d</link><pubDate>%s</pubDate><description>&lt;p&gt;Details for item %d.&lt;/p&gt;</description></item>`,
			prefix, i, base, i, pub.Add(-time.Duration(i)*time.Hour).Format(time.RFC1123Z), i)
	}
	b.WriteString(`</channel></rss>`)

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

func escapeXML(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func (s *sandbox) webhook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"Content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.posts++
	status := http.StatusOK
	if s.failEvery > 0 && s.posts%s.failEvery == 0 {
		status = http.StatusInternalServerError
	}
	s.log = append(s.log, received{At: time.Now(), Content: body.Content, Status: status})
	s.mu.Unlock()

	s.logger.Info("webhook post", zap.Int("status", status), zap.String("content", body.Content))
	w.WriteHeader(status)
}

func (s *sandbox) messages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := append([]received(nil), s.log...)
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"count": len(out), "messages": out})
}

func (s *sandbox) reset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.log = nil
	s.posts = 0
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}
