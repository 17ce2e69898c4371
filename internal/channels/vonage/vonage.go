// Package vonage implements the SMS/WhatsApp channel plugin over the Vonage
// Messages API. Grounded on the teacher's internal/handler/vonage.go
// webhook handler: same basic-auth POST to the Messages API and the same
// request/reply JSON shapes, adapted from an http.HandlerFunc into
// channel.Plugin's send_message contract.
package vonage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/connexus-ai/ragbox-support-gateway/internal/channel"
	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
)

// ChannelID is the fixed channel_id this plugin registers under.
const ChannelID = "vonage"

const messagesAPIURL = "https://api.nexmo.com/v1/messages"

// Config holds the Vonage Messages API credentials and sender numbers.
type Config struct {
	APIKey             string
	APISecret          string
	SMSFromNumber      string
	WhatsAppFromNumber string
}

// sendRequest is the body for a Vonage Messages API POST, unchanged from
// the teacher's vonageSendRequest.
type sendRequest struct {
	MessageType string `json:"message_type"`
	Text        string `json:"text"`
	To          string `json:"to"`
	From        string `json:"from"`
	Channel     string `json:"channel"`
}

// InboundWebhook is the Vonage Messages API inbound webhook payload, already
// decoded by whatever HTTP layer owns the wire format (out of scope here).
type InboundWebhook struct {
	MessageUUID string
	From        string
	To          string
	Text        string
	Channel     string // "sms" | "whatsapp"
	MessageType string
}

// Plugin implements channel.Plugin for SMS and WhatsApp via Vonage.
type Plugin struct {
	cfg        Config
	httpClient *http.Client
}

var _ channel.Plugin = (*Plugin)(nil)
var _ channel.EscalationFormatter = (*Plugin)(nil)

// New constructs a vonage Plugin.
func New(cfg Config) *Plugin {
	return &Plugin{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *Plugin) ChannelID() string { return ChannelID }

// Start verifies credentials are present; Vonage has no persistent
// connection to establish beyond the webhook endpoint living elsewhere.
func (p *Plugin) Start(ctx context.Context) error {
	if p.cfg.APIKey == "" || p.cfg.APISecret == "" {
		return fmt.Errorf("channels/vonage.Plugin.Start: API key/secret not configured")
	}
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return nil }

// HandleIncoming converts a decoded InboundWebhook into a gateway
// IncomingMessage. Non-text messages (images, stickers) are rejected so the
// caller can ack the webhook without invoking the gateway.
func (p *Plugin) HandleIncoming(ctx context.Context, raw any) (model.IncomingMessage, error) {
	in, ok := raw.(InboundWebhook)
	if !ok {
		return model.IncomingMessage{}, fmt.Errorf("channels/vonage.Plugin.HandleIncoming: unexpected payload type %T", raw)
	}
	if in.Text == "" {
		return model.IncomingMessage{}, fmt.Errorf("channels/vonage.Plugin.HandleIncoming: non-text message (type=%s)", in.MessageType)
	}
	return model.IncomingMessage{
		MessageID: in.MessageUUID,
		ChannelID: ChannelID,
		Question:  in.Text,
		User: model.UserContext{
			UserID:        "vonage:" + in.From,
			ChannelUserID: in.From,
		},
		ChannelMetadata: map[string]any{
			"phone":   in.From,
			"channel": in.Channel,
		},
	}, nil
}

// GetDeliveryTarget returns the sender's phone number prefixed with the
// sub-channel ("sms:" or "whatsapp:"). SendMessage only receives the target
// string, not channel_metadata, so the sub-channel has to travel inside it
// to pick the right reply number and Messages API channel value.
func (p *Plugin) GetDeliveryTarget(channelMetadata map[string]any) string {
	phone, _ := channelMetadata["phone"].(string)
	if phone == "" {
		return ""
	}
	sub, _ := channelMetadata["channel"].(string)
	if sub != "whatsapp" {
		sub = "sms"
	}
	return sub + ":" + phone
}

// SendMessage posts msg.Answer to the Vonage Messages API. Answers longer
// than 4000 bytes are cut to 3997 bytes plus "...".
func (p *Plugin) SendMessage(ctx context.Context, target string, msg model.OutgoingMessage) (bool, error) {
	channelName, phone, ok := splitTarget(target)
	if !ok {
		return false, nil
	}

	fromNumber := p.cfg.SMSFromNumber
	if channelName == "whatsapp" {
		fromNumber = p.cfg.WhatsAppFromNumber
	}

	text := msg.Answer
	if len(text) > 4000 {
		text = text[:3997] + "..."
	}

	if err := p.send(ctx, channelName, fromNumber, phone, text); err != nil {
		return false, fmt.Errorf("channels/vonage.Plugin.SendMessage: %w", err)
	}
	return true, nil
}

// splitTarget parses a "sms:+1555..." or "whatsapp:+1555..." delivery
// target produced by GetDeliveryTarget.
func splitTarget(target string) (channelName, phone string, ok bool) {
	for _, prefix := range []string{"sms:", "whatsapp:"} {
		if strings.HasPrefix(target, prefix) {
			return strings.TrimSuffix(prefix, ":"), strings.TrimPrefix(target, prefix), true
		}
	}
	return "", "", false
}

func (p *Plugin) send(ctx context.Context, channelName, from, to, text string) error {
	payload := sendRequest{
		MessageType: "text",
		Text:        text,
		To:          to,
		From:        from,
		Channel:     channelName,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messagesAPIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(p.cfg.APIKey + ":" + p.cfg.APISecret))
	req.Header.Set("Authorization", "Basic "+credentials)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vonage API call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vonage API %d: %s", resp.StatusCode, errBody)
	}
	return nil
}

// HealthCheck reports healthy whenever credentials are configured; Vonage
// exposes no lightweight ping endpoint worth spending a request on.
func (p *Plugin) HealthCheck(ctx context.Context) model.HealthStatus {
	if p.cfg.APIKey == "" || p.cfg.APISecret == "" {
		return model.HealthStatus{Healthy: false, Detail: "credentials not configured"}
	}
	return model.HealthStatus{Healthy: true}
}

// FormatEscalationMessage implements channel.EscalationFormatter.
func (p *Plugin) FormatEscalationMessage(username string, escalationID int64, supportHandle string) string {
	return fmt.Sprintf("Your question has been forwarded to our support team. A staff member will text you back shortly. (Ref #%d)", escalationID)
}
