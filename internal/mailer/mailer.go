// Package mailer delivers transactional email through Amazon SES, or to the
// log when no sender address is configured.
package mailer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"github.com/natours/internal/config"
)

type Message struct {
	To      string
	Subject string
	Text    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// PasswordReset builds the reset email pointing at resetURL.
func PasswordReset(to, resetURL string) Message {
	return Message{
		To:      to,
		Subject: "Your password reset token (valid for 10 min)",
		Text: fmt.Sprintf("Forgot your password? Submit a PATCH request with your new password and "+
			"passwordConfirm to: %s.\nIf you didn't forget your password, please ignore this email!", resetURL),
	}
}

type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESMailer struct {
	client   sesAPI
	from     string
	fromName string
	log      *zap.Logger
}

// loadAWSConfig is swapped in tests.
var loadAWSConfig = awsconfig.LoadDefaultConfig

// New returns an SES mailer, or a LogMailer when cfg has no sender address.
func New(ctx context.Context, cfg config.EmailConfig, log *zap.Logger) (Mailer, error) {
	if cfg.FromEmail == "" {
		log.Info("email delivery disabled, EMAIL_FROM not configured")
		return NewLogMailer(log), nil
	}

	awsCfg, err := loadAWSConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info("email delivery enabled", zap.String("from", cfg.FromEmail), zap.String("region", cfg.AWSRegion))
	return &SESMailer{
		client:   sesv2.NewFromConfig(awsCfg),
		from:     cfg.FromEmail,
		fromName: cfg.FromName,
		log:      log,
	}, nil
}

func (m *SESMailer) Send(ctx context.Context, msg Message) error {
	from := m.from
	if m.fromName != "" {
		from = fmt.Sprintf("%s <%s>", m.fromName, m.from)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(msg.Text),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	out, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", msg.To, err)
	}

	fields := []zap.Field{zap.String("to", msg.To), zap.String("subject", msg.Subject)}
	if out != nil && out.MessageId != nil {
		fields = append(fields, zap.String("message_id", *out.MessageId))
	}
	m.log.Info("email sent", fields...)
	return nil
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(log *zap.Logger) *LogMailer {
	return &LogMailer{log: log}
}

// Send logs the recipient and subject. The body may carry a live reset
// link, so it is only written at debug level.
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.log.Info("email not sent, delivery disabled",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject))
	m.log.Debug("email body", zap.String("to", msg.To), zap.String("text", msg.Text))
	return nil
}
