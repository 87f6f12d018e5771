package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hive-corporation/riskwatch/internal/core/ports"
)

type SlackNotifier struct {
	botToken    string
	channel     string
	mentionTeam string
	apiURL      string
	httpClient  *http.Client
}

func NewSlackNotifier(botToken, channel, mentionTeam string) *SlackNotifier {
	return &SlackNotifier{
		botToken:    botToken,
		channel:     channel,
		mentionTeam: mentionTeam,
		apiURL:      "https://slack.com/api/chat.postMessage",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NotifyRiskCreated sends formatted alert for a freshly created dynamic risk
func (s *SlackNotifier) NotifyRiskCreated(n ports.RiskNotification) error {
	blocks := s.buildRiskBlocks("🚨 Dynamic Risk Created", n)

	payload := SlackMessage{
		Channel: s.channel,
		Blocks:  blocks,
		Text:    fmt.Sprintf("🚨 Dynamic risk created: %s", n.Title),
	}

	return s.sendMessage(payload)
}

// NotifyRiskPromoted sends alert when a risk advances in lifecycle state
func (s *SlackNotifier) NotifyRiskPromoted(n ports.RiskNotification) error {
	blocks := s.buildRiskBlocks("⬆️ Risk Promoted", n)

	payload := SlackMessage{
		Channel: s.channel,
		Blocks:  blocks,
		Text:    fmt.Sprintf("⬆️ Risk promoted to %s: %s", n.State, n.Title),
	}

	return s.sendMessage(payload)
}

// NotifyAttribution sends alert for a high-confidence cluster attribution
func (s *SlackNotifier) NotifyAttribution(n ports.AttributionNotification) error {
	blocks := s.buildAttributionBlocks(n)

	payload := SlackMessage{
		Channel: s.channel,
		Blocks:  blocks,
		Text:    fmt.Sprintf("🎯 Threat actor attributed: %s", n.Actor),
	}

	return s.sendMessage(payload)
}

func (s *SlackNotifier) buildRiskBlocks(header string, n ports.RiskNotification) []SlackBlock {
	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{
				Type: "plain_text",
				Text: header,
			},
		},
		{
			Type: "section",
			Fields: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Risk*\n%s", n.Title)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*State*\n%s", n.State)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Confidence*\n%.0f/100", n.Confidence*100)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Sources*\n%s", strings.Join(n.Sources, ", "))},
			},
		},
		{
			Type: "divider",
		},
	}

	tagsText := "none"
	if len(n.Tags) > 0 {
		tagsText = strings.Join(n.Tags, ", ")
	}
	blocks = append(blocks, SlackBlock{
		Type: "section",
		Text: &SlackText{
			Type: "mrkdwn",
			Text: fmt.Sprintf("*Tags*: %s\n*Risk ID*: `%s`\n\ncc: %s", tagsText, n.RiskID, s.mentionTeam),
		},
	})

	return blocks
}

func (s *SlackNotifier) buildAttributionBlocks(n ports.AttributionNotification) []SlackBlock {
	campaignText := n.Campaign
	if campaignText == "" {
		campaignText = "Unknown campaign"
	}

	return []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{
				Type: "plain_text",
				Text: "🎯 Threat Actor Attribution",
			},
		},
		{
			Type: "section",
			Fields: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Actor*\n%s", n.Actor)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Campaign*\n%s", campaignText)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Cluster Type*\n%s", n.ClusterType)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Risk Level*\n%s", n.RiskLevel)},
			},
		},
		{
			Type: "section",
			Text: &SlackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*Confidence*: %.0f%%\n*Related Indicators*: %d\n*Cluster*: `%s`\n\n🔒 *Action Required*: Review cluster members and hunt for related activity\n\ncc: %s",
					n.Confidence*100, n.MemberCount, n.ClusterID, s.mentionTeam),
			},
		},
	}
}

// Send message to Slack
func (s *SlackNotifier) sendMessage(msg SlackMessage) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequest("POST", s.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.botToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}

	return nil
}

// Slack API structures

type SlackMessage struct {
	Channel string       `json:"channel"`
	Blocks  []SlackBlock `json:"blocks"`
	Text    string       `json:"text"` // Fallback text
}

type SlackBlock struct {
	Type     string      `json:"type"`
	Text     *SlackText  `json:"text,omitempty"`
	Fields   []SlackText `json:"fields,omitempty"`
	Elements []SlackText `json:"elements,omitempty"`
}

type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
