package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/nidhogg/smallville/internal/pipeline"
)

type fakeSink struct {
	name string
	err  error

	mu    sync.Mutex
	posts []Post
}

func (f *fakeSink) Platform() string { return f.name }

func (f *fakeSink) Post(_ context.Context, p Post) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, p)
	return nil
}

func (f *fakeSink) Close() error { return nil }

func TestPublishFiltersKinds(t *testing.T) {
	b := NewBroadcaster(zap.NewNop(), pipeline.EventConversation)
	sink := &fakeSink{name: "fake"}
	b.Register(sink)

	ctx := context.Background()
	at := time.Date(2023, 2, 13, 9, 0, 0, 0, time.UTC)
	if err := b.Publish(ctx, pipeline.Event{Kind: pipeline.EventPlans, Agent: "Amy", Text: "sleep", At: at}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := b.Publish(ctx, pipeline.Event{Kind: pipeline.EventConversation, Agent: "Amy", Text: "Hi Bob", At: at}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(sink.posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(sink.posts))
	}
	if got := sink.posts[0]; got.Agent != "Amy" || got.Text != "Hi Bob" || got.Kind != "conversation" {
		t.Errorf("unexpected post: %+v", got)
	}
}

func TestSendKeepsGoingAfterFailure(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	broken := &fakeSink{name: "broken", err: errors.New("boom")}
	ok := &fakeSink{name: "ok"}
	b.Register(broken)
	b.Register(ok)

	err := b.Send(context.Background(), Post{Agent: "Amy", Text: "hello"})
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("expected error naming the broken sink, got %v", err)
	}
	if len(ok.posts) != 1 {
		t.Errorf("healthy sink should still receive the post")
	}

	h := b.History(0)
	if len(h) != 1 || len(h[0].Targets) != 1 || h[0].Targets[0] != "ok" {
		t.Errorf("unexpected history: %+v", h)
	}
}

func TestHistoryLimit(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	for i := 0; i < maxHistory+5; i++ {
		_ = b.Send(context.Background(), Post{Text: "x"})
	}
	if got := len(b.History(0)); got != maxHistory {
		t.Errorf("history should be capped at %d, got %d", maxHistory, got)
	}
	if got := len(b.History(3)); got != 3 {
		t.Errorf("History(3) returned %d records", got)
	}
}

func TestPostRendering(t *testing.T) {
	tests := []struct {
		post Post
		line string
		full string
	}{
		{Post{Agent: "Amy", Text: "hi"}, "hi", "Amy: hi"},
		{Post{Agent: "Amy", Emoji: "☕", Text: "hi"}, "☕ hi", "☕ Amy: hi"},
		{Post{Text: "town news"}, "town news", "town news"},
	}
	for _, tt := range tests {
		if got := tt.post.Line(); got != tt.line {
			t.Errorf("Line() = %q, want %q", got, tt.line)
		}
		if got := tt.post.String(); got != tt.full {
			t.Errorf("String() = %q, want %q", got, tt.full)
		}
	}
}

func TestSlackSinkPost(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat.postMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		form = map[string]string{
			"channel":  r.FormValue("channel"),
			"text":     r.FormValue("text"),
			"username": r.FormValue("username"),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": "C1", "ts": "1.0"})
	}))
	defer srv.Close()

	sink, err := NewSlackSink("xoxb-test", "C1", zap.NewNop(), slack.OptionAPIURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("NewSlackSink: %v", err)
	}
	if err := sink.Post(context.Background(), Post{Agent: "Amy", Emoji: "☕", Text: "Good morning"}); err != nil {
		t.Fatalf("Post: %v", err)
	}

	if form["channel"] != "C1" || form["username"] != "Amy" || form["text"] != "☕ Good morning" {
		t.Errorf("unexpected form: %+v", form)
	}
}

func TestSlackSinkReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	}))
	defer srv.Close()

	sink, err := NewSlackSink("xoxb-test", "C404", zap.NewNop(), slack.OptionAPIURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("NewSlackSink: %v", err)
	}
	err = sink.Post(context.Background(), Post{Agent: "Amy", Text: "hi"})
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("expected channel_not_found, got %v", err)
	}
}

func TestSinkConstructorsValidate(t *testing.T) {
	if _, err := NewSlackSink("", "C1", zap.NewNop()); err == nil {
		t.Error("slack sink without token should fail")
	}
	if _, err := NewSlackSink("xoxb", "", zap.NewNop()); err == nil {
		t.Error("slack sink without channel should fail")
	}
	if _, err := NewDiscordSink("token", "", zap.NewNop()); err == nil {
		t.Error("discord sink without channel should fail")
	}
	s, err := NewDiscordSink("token", "123", zap.NewNop())
	if err != nil {
		t.Fatalf("NewDiscordSink: %v", err)
	}
	if s.Platform() != "discord" {
		t.Errorf("Platform() = %q", s.Platform())
	}
}
