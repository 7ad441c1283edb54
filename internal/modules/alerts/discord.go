package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/aristath/bucketeer/internal/domain"
	"github.com/rs/zerolog"
)

// Embed colors per severity
const (
	colorInfo     = 0x3498db
	colorWarning  = 0xf1c40f
	colorCritical = 0xe74c3c
)

// DiscordNotifier posts alerts to a Discord webhook
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
	log        zerolog.Logger
}

// NewDiscordNotifier creates a notifier; an empty URL disables it
func NewDiscordNotifier(webhookURL string, log zerolog.Logger) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        log.With().Str("component", "discord").Logger(),
	}
}

// Enabled reports whether a webhook is configured
func (d *DiscordNotifier) Enabled() bool {
	return d.webhookURL != ""
}

// Notify sends one alert as an embed
func (d *DiscordNotifier) Notify(ctx context.Context, a domain.Alert) error {
	if !d.Enabled() {
		return nil
	}

	fields := make([]map[string]interface{}, 0, len(a.Details))
	keys := make([]string, 0, len(a.Details))
	for k := range a.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, map[string]interface{}{
			"name":   k,
			"value":  fmt.Sprintf("%v", a.Details[k]),
			"inline": true,
		})
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       string(a.Type),
				"description": a.Message,
				"color":       severityColor(a.Severity),
				"fields":      fields,
				"footer":      map[string]string{"text": "bucketeer"},
				"timestamp":   a.TriggeredAt.Format(time.RFC3339),
			},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord returned status: %d", resp.StatusCode)
	}
	d.log.Debug().Str("key", a.Key).Msg("Alert delivered")
	return nil
}

func severityColor(s domain.AlertSeverity) int {
	switch s {
	case domain.SeverityCritical:
		return colorCritical
	case domain.SeverityWarning:
		return colorWarning
	}
	return colorInfo
}
