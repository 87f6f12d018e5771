package notifier

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hive-corporation/riskwatch/internal/core/ports"
)

func testNotifier(t *testing.T) (*SlackNotifier, *[]SlackMessage) {
	t.Helper()
	var received []SlackMessage

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer xoxb-test" {
			t.Errorf("authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		var msg SlackMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		received = append(received, msg)
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(server.Close)

	s := NewSlackNotifier("xoxb-test", "#security-alerts", "@security-team")
	s.apiURL = server.URL
	s.httpClient = server.Client()
	return s, &received
}

func TestNotifyRiskCreated(t *testing.T) {
	s, received := testNotifier(t)

	err := s.NotifyRiskCreated(ports.RiskNotification{
		RiskID:     "risk-1",
		Title:      "Active exploitation of CVE-2026-1111",
		State:      "detected",
		Confidence: 0.85,
		Sources:    []string{"cisa-kev"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(*received) != 1 {
		t.Fatalf("got %d messages, want 1", len(*received))
	}

	msg := (*received)[0]
	if msg.Channel != "#security-alerts" {
		t.Errorf("channel = %s", msg.Channel)
	}
	if !strings.Contains(msg.Text, "Dynamic risk created") {
		t.Errorf("fallback text = %s", msg.Text)
	}
	var mentionFound, confidenceFound bool
	for _, block := range msg.Blocks {
		if block.Text != nil && strings.Contains(block.Text.Text, "@security-team") {
			mentionFound = true
		}
		for _, field := range block.Fields {
			if strings.Contains(field.Text, "*Confidence*\n85/100") {
				confidenceFound = true
			}
		}
	}
	if !mentionFound {
		t.Error("message should mention the on-call team")
	}
	if !confidenceFound {
		t.Error("confidence score 0.85 should render as 85/100")
	}
}

func TestNotifyRiskPromoted(t *testing.T) {
	s, received := testNotifier(t)

	err := s.NotifyRiskPromoted(ports.RiskNotification{
		RiskID: "risk-1",
		Title:  "Active exploitation of CVE-2026-1111",
		State:  "draft",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains((*received)[0].Text, "promoted to draft") {
		t.Errorf("fallback text = %s", (*received)[0].Text)
	}
}

func TestNotifyAttribution(t *testing.T) {
	s, received := testNotifier(t)

	err := s.NotifyAttribution(ports.AttributionNotification{
		ClusterID:   "cluster-1",
		ClusterType: "infrastructure",
		Actor:       "APT-EXAMPLE",
		Confidence:  0.8,
		MemberCount: 4,
	})
	if err != nil {
		t.Fatal(err)
	}

	msg := (*received)[0]
	if !strings.Contains(msg.Text, "APT-EXAMPLE") {
		t.Errorf("fallback text = %s", msg.Text)
	}
	var detail string
	for _, block := range msg.Blocks {
		if block.Text != nil && block.Text.Type == "mrkdwn" {
			detail = block.Text.Text
		}
	}
	if !strings.Contains(detail, "*Confidence*: 80%") {
		t.Errorf("detail block = %s", detail)
	}
	if !strings.Contains(detail, "Related Indicators*: 4") {
		t.Errorf("detail block = %s", detail)
	}
}

func TestSendMessageSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	s := NewSlackNotifier("xoxb-test", "#security-alerts", "@security-team")
	s.apiURL = server.URL
	s.httpClient = server.Client()

	err := s.NotifyRiskCreated(ports.RiskNotification{RiskID: "risk-1", Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("expected status error, got %v", err)
	}
}
