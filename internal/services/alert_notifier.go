package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/nats-io/nats.go"
)

// AlertNotifier delivers critical security events to operators
type AlertNotifier interface {
	Notify(ctx context.Context, event *models.SecurityEvent) error
}

// LogNotifier writes alerts to the application log. Used when no other channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, event *models.SecurityEvent) error {
	n.logger.ErrorContext(ctx, "SECURITY ALERT",
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", event.Type.String()),
		slog.String("severity", event.Severity.String()),
		slog.String("ip_address", event.SourceIP),
		slog.String("endpoint", event.Endpoint),
		slog.Any("details", event.Details))
	return nil
}

// SESClient is the subset of the SES API used for alert e-mails
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESAlertNotifier e-mails alerts through AWS SES
type SESAlertNotifier struct {
	sesClient   SESClient
	fromAddress string
	recipients  []string
	logger      *slog.Logger
}

// NewSESAlertNotifier creates a notifier using the default AWS credential chain
func NewSESAlertNotifier(region, fromAddress string, recipients []string, logger *slog.Logger) (*SESAlertNotifier, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESAlertNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, recipients, logger), nil
}

// NewSESAlertNotifierWithClient creates a notifier around an existing SES client
func NewSESAlertNotifierWithClient(client SESClient, fromAddress string, recipients []string, logger *slog.Logger) *SESAlertNotifier {
	return &SESAlertNotifier{
		sesClient:   client,
		fromAddress: fromAddress,
		recipients:  recipients,
		logger:      logger,
	}
}

func (n *SESAlertNotifier) Notify(ctx context.Context, event *models.SecurityEvent) error {
	if len(n.recipients) == 0 {
		return nil
	}

	subject := fmt.Sprintf("[%s] %s from %s",
		strings.ToUpper(event.Severity.String()), event.Type.String(), event.SourceIP)

	details, err := json.MarshalIndent(event.Details, "", "  ")
	if err != nil {
		details = []byte("{}")
	}

	textBody := fmt.Sprintf(`Security alert

Event:     %s
Type:      %s
Severity:  %s
Source IP: %s
Endpoint:  %s
Time:      %s

Details:
%s

Review and resolve this event from the admin security dashboard.
`, event.ID, event.Type, event.Severity, event.SourceIP, event.Endpoint,
		event.CreatedAt.UTC().Format(time.RFC3339), details)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: n.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := n.sesClient.SendEmail(ctx, input)
	if err != nil {
		n.logger.Error("failed to send security alert via SES",
			slog.String("event_id", event.ID.String()),
			slog.Any("error", err))
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	messageID := ""
	if result != nil && result.MessageId != nil {
		messageID = *result.MessageId
	}
	n.logger.Info("security alert email sent",
		slog.String("event_id", event.ID.String()),
		slog.String("message_id", messageID))
	return nil
}

// NATSPublisher is satisfied by *nats.Conn
type NATSPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSAlertNotifier publishes alerts as JSON on a NATS subject
type NATSAlertNotifier struct {
	conn    NATSPublisher
	subject string
}

// NewNATSAlertNotifier creates a notifier publishing to subject
func NewNATSAlertNotifier(conn NATSPublisher, subject string) *NATSAlertNotifier {
	return &NATSAlertNotifier{conn: conn, subject: subject}
}

// ConnectNATS dials the alert bus, reconnecting indefinitely
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}

func (n *NATSAlertNotifier) Notify(ctx context.Context, event *models.SecurityEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	hdr := nats.Header{}
	hdr.Set("Nats-Msg-Id", event.ID.String())
	hdr.Set("Severity", event.Severity.String())
	msg := &nats.Msg{Subject: n.subject, Data: data, Header: hdr}

	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// MultiNotifier fans an alert out to every channel. All channels are tried;
// their errors are joined.
type MultiNotifier struct {
	notifiers []AlertNotifier
}

// NewMultiNotifier creates a MultiNotifier, skipping nil entries
func NewMultiNotifier(notifiers ...AlertNotifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

func (m *MultiNotifier) Notify(ctx context.Context, event *models.SecurityEvent) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
