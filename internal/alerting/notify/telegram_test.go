package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTelegramChannelSend(t *testing.T) {
	type request struct {
		path   string
		chatID string
		text   string
	}
	requests := make(chan request, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		requests <- request{path: r.URL.Path, chatID: r.FormValue("chat_id"), text: r.FormValue("text")}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
	}))
	defer server.Close()

	channel, err := NewTelegramChannel("123:abc", 42, WithTelegramServerURL(server.URL))
	if err != nil {
		t.Fatalf("new telegram channel: %v", err)
	}
	if err := channel.Send(context.Background(), "co warning threshold exceeded (value=50)"); err != nil {
		t.Fatalf("send: %v", err)
	}
	req := <-requests
	if !strings.HasSuffix(req.path, "/sendMessage") {
		t.Fatalf("unexpected path %q", req.path)
	}
	if req.chatID != "42" || req.text != "co warning threshold exceeded (value=50)" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestTelegramChannelRequiresConfig(t *testing.T) {
	if _, err := NewTelegramChannel("", 42); err == nil {
		t.Fatalf("expected error for empty token")
	}
	if _, err := NewTelegramChannel("123:abc", 0); err == nil {
		t.Fatalf("expected error for empty chat id")
	}
}
