package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/PagerDuty/go-pagerduty"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/klaxon/issue"
)

func testTrigger() pagerduty.V2Event {
	return issue.Issue{
		Title:       "HighMemoryUsage on node-1",
		Source:      "node-exporter",
		Component:   "node-1",
		DedupFields: issue.Fields{"alertname": "HighMemoryUsage", "instance": "node-1"},
	}.TriggerEvent()
}

func TestSend_PostsTrigger(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	n.now = func() time.Time { return time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC) }

	if err := n.Send(context.Background(), testTrigger()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, divider, fields, divider, details, divider, context = 7 blocks
	if len(blocks) != 7 {
		t.Fatalf("blocks count = %d, want 7", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "HighMemoryUsage on node-1") {
		t.Errorf("header text = %q, want to contain the summary", headerText)
	}
	if !strings.Contains(headerText, "\U0001f6a8") {
		t.Errorf("header should contain the trigger marker")
	}

	details := blocks[4].(map[string]any)["text"].(map[string]any)["text"].(string)
	if !strings.Contains(details, "*alertname:* HighMemoryUsage") || !strings.Contains(details, "*instance:* node-1") {
		t.Errorf("details = %q, want both dedup fields", details)
	}

	ctxText := blocks[6].(map[string]any)["elements"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.Contains(ctxText, "2026-02-26 14:23 UTC") {
		t.Errorf("context = %q, want timestamp", ctxText)
	}
}

func TestSend_PostsResolve(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ev := issue.Issue{DedupFields: issue.Fields{"instance": "node-1"}}.ResolveEvent()
	if err := New(srv.URL, log.Nop()).Send(context.Background(), ev); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks := got["blocks"].([]any)
	// header, divider, context = 3 blocks
	if len(blocks) != 3 {
		t.Fatalf("blocks count = %d, want 3", len(blocks))
	}
	headerText := blocks[0].(map[string]any)["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, ev.DedupKey) || !strings.Contains(headerText, "Resolved") {
		t.Errorf("header text = %q, want resolve with dedup key", headerText)
	}
}

func TestSend_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", nil)
	if err := n.Send(context.Background(), testTrigger()); err != nil {
		t.Fatalf("Send with empty URL should be no-op, got: %v", err)
	}
}

func TestSend_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	err := New(srv.URL, log.Nop()).Send(context.Background(), testTrigger())
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func TestHeaderBlock_Truncates(t *testing.T) {
	t.Parallel()

	ev := issue.Issue{Title: strings.Repeat("ü", 400)}.TriggerEvent()
	text := headerBlock(ev)["text"].(map[string]any)["text"].(string)

	if n := utf8.RuneCountInString(text); n != maxHeaderLen {
		t.Errorf("header runes = %d, want %d", n, maxHeaderLen)
	}
	if !utf8.ValidString(text) || !strings.HasSuffix(text, "...") {
		t.Errorf("header not truncated cleanly: %q", text)
	}
}

func TestActionEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		action string
		want   string
	}{
		{"trigger", "\U0001f6a8"},
		{"resolve", "✅"},
		{"acknowledge", "❔"},
		{"", "❔"},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			t.Parallel()
			if got := actionEmoji(tt.action); got != tt.want {
				t.Errorf("actionEmoji(%q) = %q, want %q", tt.action, got, tt.want)
			}
		})
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("HighCPU", "node-exporter", "node-1", "instance", "node-1")
	f.Add("", "", "", "", "")
	f.Add("<@U123> mention", "src", "*bold* _italic_", "k", "~strike~")
	f.Add("alert\x00\x01\x02", "sev\nline", "comp\ttab", "\x00", "\xff")
	f.Add(strings.Repeat("A", 5000), "s", "c", strings.Repeat("k", 100), strings.Repeat("x", 10000))

	f.Fuzz(func(t *testing.T, title, source, component, key, value string) {
		is := issue.Issue{
			Title:       title,
			Source:      source,
			Component:   component,
			DedupFields: issue.Fields{key: value},
		}

		for _, ev := range []pagerduty.V2Event{is.TriggerEvent(), is.ResolveEvent()} {
			// Must not panic
			msg := buildMessage(ev, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

			data, err := json.Marshal(msg)
			if err != nil {
				t.Fatalf("buildMessage produced non-marshalable output: %v", err)
			}

			var decoded map[string]any
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("buildMessage JSON does not round-trip: %v", err)
			}
			if _, ok := decoded["blocks"].([]any); !ok {
				t.Fatal("expected blocks array")
			}
		}
	})
}
