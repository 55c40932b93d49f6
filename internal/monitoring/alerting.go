package monitoring

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Aidin1998/ebbo_monitor/pkg/metrics"
)

// Alert is a finding pushed to the external alert channels.
type Alert struct {
	ID        uuid.UUID
	Test      string
	Severity  Severity
	Message   string
	Fields    map[string]interface{}
	Timestamp time.Time
}

// MarshalJSON renders the severity by name.
func (a Alert) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"id":        a.ID.String(),
		"test":      a.Test,
		"severity":  a.Severity.String(),
		"message":   a.Message,
		"fields":    a.Fields,
		"timestamp": a.Timestamp,
	})
}

// Reporter receives the findings of monitoring tests.
type Reporter interface {
	Report(ctx context.Context, test string, severity Severity, msg string, fields ...zap.Field)
}

// AlertChannel defines the interface for alert notification channels
type AlertChannel interface {
	SendAlert(ctx context.Context, alert Alert) error
	GetChannelType() string
	IsEnabled() bool
}

// Alerter logs every finding at the level of its severity and fans alerts out to the
// configured channels. Channel failures are logged and otherwise ignored.
type Alerter struct {
	channels []AlertChannel
	logger   *zap.Logger
}

// NewAlerter creates an alerter writing to logger.
func NewAlerter(logger *zap.Logger, channels ...AlertChannel) *Alerter {
	return &Alerter{channels: channels, logger: logger}
}

// AddChannel adds an alert channel
func (a *Alerter) AddChannel(channel AlertChannel) {
	a.channels = append(a.channels, channel)
}

// Report implements Reporter.
func (a *Alerter) Report(ctx context.Context, test string, severity Severity, msg string, fields ...zap.Field) {
	metrics.AlertsTotal.WithLabelValues(test, severity.String()).Inc()

	all := append([]zap.Field{zap.String("test", test), zap.Stringer("severity", severity)}, fields...)
	if ce := a.logger.Check(severity.Level(), msg); ce != nil {
		ce.Write(all...)
	}

	if severity < SeverityAlert {
		return
	}
	alert := Alert{
		ID:        uuid.New(),
		Test:      test,
		Severity:  severity,
		Message:   msg,
		Fields:    fieldMap(fields),
		Timestamp: time.Now().UTC(),
	}
	for _, channel := range a.channels {
		if !channel.IsEnabled() {
			continue
		}
		if err := channel.SendAlert(ctx, alert); err != nil {
			a.logger.Error("Failed to send alert via channel",
				zap.String("channel_type", channel.GetChannelType()),
				zap.String("alert_id", alert.ID.String()),
				zap.Error(err))
		}
	}
}

// GetEnabledChannels returns list of enabled channels
func (a *Alerter) GetEnabledChannels() []string {
	var enabled []string
	for _, channel := range a.channels {
		if channel.IsEnabled() {
			enabled = append(enabled, channel.GetChannelType())
		}
	}
	return enabled
}

func fieldMap(fields []zap.Field) map[string]interface{} {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return enc.Fields
}

// WebhookChannel implements webhook-based alert notifications
type WebhookChannel struct {
	URL        string
	Method     string
	Headers    map[string]string
	Timeout    time.Duration
	RetryCount int
	// RetryDelay grows linearly with the attempt number.
	RetryDelay time.Duration
	Enabled    bool
	client     *http.Client
	logger     *zap.Logger
}

// NewWebhookChannel creates a new webhook alert channel
func NewWebhookChannel(url, method string, headers map[string]string, timeout time.Duration, logger *zap.Logger) *WebhookChannel {
	if method == "" {
		method = http.MethodPost
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &WebhookChannel{
		URL:        url,
		Method:     method,
		Headers:    headers,
		Timeout:    timeout,
		RetryCount: 3,
		RetryDelay: time.Second,
		Enabled:    url != "",
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// SendAlert sends alert via webhook
func (wc *WebhookChannel) SendAlert(ctx context.Context, alert Alert) error {
	if !wc.Enabled {
		return nil
	}

	jsonData, err := json.Marshal(alert)
	if err != nil {
		return errors.Wrap(err, "failed to marshal alert payload")
	}

	return wc.sendWithRetry(ctx, jsonData)
}

func (wc *WebhookChannel) sendWithRetry(ctx context.Context, data []byte) error {
	var lastErr error

	for i := 0; i <= wc.RetryCount; i++ {
		err := wc.sendWebhook(ctx, data)
		if err == nil {
			return nil
		}
		lastErr = err
		wc.logger.Warn("Webhook send failed, retrying",
			zap.Int("attempt", i+1),
			zap.Error(err))

		if i < wc.RetryCount {
			select {
			case <-time.After(time.Duration(i+1) * wc.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return errors.Wrap(lastErr, "webhook send failed after retries")
}

func (wc *WebhookChannel) sendWebhook(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, wc.Method, wc.URL, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "failed to create webhook request")
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range wc.Headers {
		req.Header.Set(key, value)
	}

	resp, err := wc.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send webhook request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// GetChannelType returns the channel type
func (wc *WebhookChannel) GetChannelType() string {
	return "webhook"
}

// IsEnabled returns whether the channel is enabled
func (wc *WebhookChannel) IsEnabled() bool {
	return wc.Enabled
}

// SlackChannel implements Slack-based alert notifications
type SlackChannel struct {
	WebhookURL string
	Channel    string
	Username   string
	IconEmoji  string
	Enabled    bool
	client     *http.Client
	logger     *zap.Logger
}

// NewSlackChannel creates a new Slack alert channel
func NewSlackChannel(webhookURL, channel, username, iconEmoji string, logger *zap.Logger) *SlackChannel {
	if username == "" {
		username = "EBBO Monitor"
	}
	if iconEmoji == "" {
		iconEmoji = ":warning:"
	}

	return &SlackChannel{
		WebhookURL: webhookURL,
		Channel:    channel,
		Username:   username,
		IconEmoji:  iconEmoji,
		Enabled:    webhookURL != "",
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// SendAlert sends alert via Slack
func (sc *SlackChannel) SendAlert(ctx context.Context, alert Alert) error {
	if !sc.Enabled {
		return nil
	}

	fields := []map[string]interface{}{
		{"title": "Alert ID", "value": alert.ID.String(), "short": true},
		{"title": "Severity", "value": alert.Severity.String(), "short": true},
	}
	keys := make([]string, 0, len(alert.Fields))
	for k := range alert.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": fmt.Sprint(alert.Fields[k]),
			"short": len(k) < 16,
		})
	}

	payload := map[string]interface{}{
		"channel":    sc.Channel,
		"username":   sc.Username,
		"icon_emoji": sc.IconEmoji,
		"attachments": []map[string]interface{}{
			{
				"color":  severityColor(alert.Severity),
				"title":  fmt.Sprintf("EBBO alert: %s", alert.Test),
				"text":   alert.Message,
				"fields": fields,
				"footer": "EBBO Monitoring",
				"ts":     alert.Timestamp.Unix(),
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal Slack payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sc.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return errors.Wrap(err, "failed to create Slack request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send Slack webhook")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack webhook returned status %d", resp.StatusCode)
	}

	return nil
}

func severityColor(severity Severity) string {
	switch severity {
	case SeverityInfo:
		return "good"
	case SeverityWarning:
		return "warning"
	case SeverityAlert:
		return "danger"
	default:
		return "#CCCCCC"
	}
}

// GetChannelType returns the channel type
func (sc *SlackChannel) GetChannelType() string {
	return "slack"
}

// IsEnabled returns whether the channel is enabled
func (sc *SlackChannel) IsEnabled() bool {
	return sc.Enabled
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChannel publishes alerts to a Kafka topic, keyed by test name.
type KafkaChannel struct {
	Topic   string
	Enabled bool
	writer  messageWriter
	logger  *zap.Logger
}

// NewKafkaChannel creates a channel writing to topic on the given brokers.
func NewKafkaChannel(brokers []string, topic string, logger *zap.Logger) *KafkaChannel {
	return &KafkaChannel{
		Topic:   topic,
		Enabled: len(brokers) > 0 && topic != "",
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.CRC32Balancer{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 5 * time.Second,
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
		},
		logger: logger,
	}
}

// SendAlert publishes the alert as JSON.
func (kc *KafkaChannel) SendAlert(ctx context.Context, alert Alert) error {
	if !kc.Enabled {
		return nil
	}
	value, err := json.Marshal(alert)
	if err != nil {
		return errors.Wrap(err, "failed to marshal alert")
	}
	msg := kafka.Message{
		Key:   []byte(alert.Test),
		Value: value,
		Time:  alert.Timestamp,
	}
	if err := kc.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "failed to publish alert to %s", kc.Topic)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (kc *KafkaChannel) Close() error {
	return kc.writer.Close()
}

// GetChannelType returns the channel type
func (kc *KafkaChannel) GetChannelType() string {
	return "kafka"
}

// IsEnabled returns whether the channel is enabled
func (kc *KafkaChannel) IsEnabled() bool {
	return kc.Enabled
}
