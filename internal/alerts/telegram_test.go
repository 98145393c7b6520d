package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dlmm-range-bot/internal/config"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

func TestTelegramNotifyDisabled(t *testing.T) {
	cfg := config.TelegramConfig{Enabled: false}
	client := newTelegram(cfg, zap.NewNop(), "http://unused", nil)
	if err := client.Notify(context.Background(), common.Address{}, KindOutOfRange, "hello", 1); err != nil {
		t.Fatalf("expected nil error when disabled, got %v", err)
	}
}

func TestTelegramNotifyMissingConfig(t *testing.T) {
	cfg := config.TelegramConfig{Enabled: true}
	client := newTelegram(cfg, zap.NewNop(), "http://unused", nil)
	if err := client.Notify(context.Background(), common.Address{}, KindOutOfRange, "hello", 1); err == nil {
		t.Fatal("expected error for missing token/chat_id")
	}
}

func TestTelegramNotifyPostsMessage(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}
	client := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	wallet := common.HexToAddress("0x42")
	if err := client.Notify(context.Background(), wallet, KindOutOfRange, "price left range", 7); err != nil {
		t.Fatalf("expected send success, got %v", err)
	}
	if gotPath != "/bottoken/sendMessage" {
		t.Fatalf("expected path /bottoken/sendMessage, got %s", gotPath)
	}
	if gotPayload["chat_id"] != "123" {
		t.Fatalf("expected chat_id 123, got %q", gotPayload["chat_id"])
	}
	text := gotPayload["text"]
	if !strings.Contains(text, "out_of_range") || !strings.Contains(text, "#7") || !strings.Contains(text, "price left range") {
		t.Fatalf("notification text missing fields: %q", text)
	}
}

func TestTelegramNotifyAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}
	client := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	err := client.Notify(context.Background(), common.Address{}, KindRebalanced, "done", 1)
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected telegram API error, got %v", err)
	}
}
