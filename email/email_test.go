package email

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

const digest = "New since 2024-11-30\n\n" +
	"Apartment Long Term Rental\n" +
	"1. Budva, Becici, ?, 450e, [1](https://realitica.com/en/listing/1)\n" +
	"2. Budva, <Rozino>, 70, 600e, [2](javascript:void)\n\n" +
	"House For Sale\n" +
	"1. Bar, Susanj, 120, 250000e, [3](https://estitor.com/x/id-3)"

func TestRenderDigest(t *testing.T) {
	body := renderDigest(digest)

	wants := []string{
		"<h2>New since 2024-11-30</h2>",
		"<h3>Apartment Long Term Rental</h3>\n<ol>\n<li>Budva, Becici, ?, 450e, <a href=\"https://realitica.com/en/listing/1\">1</a></li>",
		"<li>Budva, &lt;Rozino&gt;, 70, 600e, 2</li>\n</ol>",
		"<h3>House For Sale</h3>\n<ol>\n<li>Bar, Susanj, 120, 250000e, <a href=\"https://estitor.com/x/id-3\">3</a></li>\n</ol>",
	}
	for _, want := range wants {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q\nGot:\n%s", want, body)
		}
	}
	if strings.Contains(body, "javascript:") {
		t.Error("unsafe link rendered")
	}
}

func TestSubjectOf(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{digest, "New real estate listings: new since 2024-11-30"},
		{"", defaultSubject},
		{"\nbody", defaultSubject},
	}
	for _, tt := range tests {
		if got := subjectOf(tt.text); got != tt.want {
			t.Errorf("subjectOf(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestChannelSend(t *testing.T) {
	mock := NewMockProvider(testLogger())
	ch := New(mock, testLogger())

	if err := ch.Send(context.Background(), "user@example.com", digest); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := ch.Send(context.Background(), "not-an-address", digest); err == nil {
		t.Error("Send() accepted an invalid address")
	}

	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(sent))
	}
	if sent[0].To != "user@example.com" || !strings.HasPrefix(sent[0].HTML, "<!DOCTYPE html>") {
		t.Errorf("sent = %+v", sent[0])
	}
	if ch.Name() != "email" {
		t.Errorf("Name() = %q", ch.Name())
	}
}

func TestBuildMIMESanitizesHeaders(t *testing.T) {
	msg := buildMIME("victim@example.com\r\nBcc: attacker@example.com", "Hi\nX-Injected: 1", "<p>body</p>")
	if strings.Contains(msg, "\r\nBcc:") || strings.Contains(msg, "\nX-Injected") {
		t.Errorf("header injection not prevented:\n%s", msg)
	}
	if !strings.Contains(msg, "Subject: HiX-Injected: 1\r\n") {
		t.Errorf("subject not kept on one line:\n%s", msg)
	}
	if !strings.HasSuffix(msg, "\r\n\r\n<p>body</p>") {
		t.Errorf("body not appended after headers:\n%s", msg)
	}
}

func TestBrevoProvider(t *testing.T) {
	var got brevoSendRequest
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("api-key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got.To[0].Email == "bounce@example.com" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":"invalid_parameter","message":"email is not valid"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"messageId":"<201@smtp-relay.mailin.fr>"}`))
	}))
	defer srv.Close()

	p := NewBrevoProvider("key-123", "digest@example.com", "Estate Notifier", testLogger())
	p.endpoint = srv.URL

	if err := p.Send(context.Background(), "user@example.com", "Subject", "<p>hi</p>"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if apiKey != "key-123" || got.Sender.Email != "digest@example.com" || got.HTML != "<p>hi</p>" {
		t.Errorf("request = %+v, api key %q", got, apiKey)
	}
	if len(got.Tags) != 1 || got.Tags[0] != brevoTag {
		t.Errorf("tags = %v", got.Tags)
	}

	err := p.Send(context.Background(), "bounce@example.com", "Subject", "<p>hi</p>")
	var apiErr *BrevoError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Send() error = %v, want *BrevoError", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Code != "invalid_parameter" || !IsBrevoError(err) {
		t.Errorf("BrevoError = %+v", apiErr)
	}
}
