// Package gmail implements a MailTransport backed by the Gmail API.
package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/client"
	"github.com/ArionMiles/mailspend/pkg/mailbody"
)

// Default configuration values.
const (
	DefaultUser          = "me"
	DefaultPageSize      = 100
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 2 * time.Second
)

// Config holds configuration for the Gmail transport.
type Config struct {
	// User is the mailbox to read. Defaults to the authorized user.
	User string
	// MarkRead removes the UNREAD label from acknowledged messages.
	MarkRead bool
	// PageSize is the number of ids requested per list call.
	PageSize int64
	// MaxMessages caps the ids returned per query. Zero means no cap.
	MaxMessages int
	// RetryAttempts and RetryDelay control retries of rate-limited calls.
	RetryAttempts uint
	RetryDelay    time.Duration
}

// Transport lists and fetches messages through the Gmail API.
type Transport struct {
	client *gmail.Service
	cfg    Config
	logger *slog.Logger
}

// New creates a Gmail transport. Extra client options are applied after the
// HTTP client, which lets tests point the service at a local endpoint.
func New(httpClient *http.Client, cfg Config, logger *slog.Logger, opts ...option.ClientOption) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := gmail.NewService(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	if cfg.User == "" {
		cfg.User = DefaultUser
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	return &Transport{
		client: svc,
		cfg:    cfg,
		logger: logger.With("transport", "gmail"),
	}, nil
}

// ListMessageIDs returns the ids of every message matching query, following pagination.
func (t *Transport) ListMessageIDs(ctx context.Context, query string) ([]string, error) {
	var (
		ids       []string
		pageToken string
	)
	for {
		var resp *gmail.ListMessagesResponse
		err := t.retry(ctx, func() error {
			call := t.client.Users.Messages.List(t.cfg.User).
				Q(query).
				MaxResults(t.cfg.PageSize).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("listing messages: %w", err)
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
			if t.cfg.MaxMessages > 0 && len(ids) >= t.cfg.MaxMessages {
				return ids, nil
			}
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	t.logger.Debug("listed messages", "query", query, "count", len(ids))
	return ids, nil
}

// FetchMessage retrieves a full message and decodes its body to plaintext.
func (t *Transport) FetchMessage(ctx context.Context, id string) (*api.Message, error) {
	var msg *gmail.Message
	err := t.retry(ctx, func() error {
		var err error
		msg, err = t.client.Users.Messages.Get(t.cfg.User, id).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}

	out := &api.Message{
		ID:   msg.Id,
		Body: mailbody.FromGmail(msg.Payload),
	}
	if msg.Payload != nil {
		out.Subject = header(msg.Payload.Headers, "Subject")
		out.From = header(msg.Payload.Headers, "From")
		if d, err := mail.ParseDate(header(msg.Payload.Headers, "Date")); err == nil {
			out.Date = d
		}
	}
	if out.Date.IsZero() && msg.InternalDate > 0 {
		out.Date = time.UnixMilli(msg.InternalDate).UTC()
	}
	if out.Body == "" {
		t.logger.Warn("empty message body", "message_id", id, "subject", out.Subject)
	}
	return out, nil
}

// Acknowledge marks a message as read when MarkRead is enabled.
func (t *Transport) Acknowledge(ctx context.Context, id string) error {
	if !t.cfg.MarkRead {
		return nil
	}
	err := t.retry(ctx, func() error {
		_, err := t.client.Users.Messages.Modify(t.cfg.User, id, &gmail.ModifyMessageRequest{
			RemoveLabelIds: []string{"UNREAD"},
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("marking message %s as read: %w", id, err)
	}
	t.logger.Debug("marked message as read", "message_id", id)
	return nil
}

func (t *Transport) retry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			if client.Retryable(err) {
				t.logger.Warn("gmail request failed, will retry", "error", err)
				return true
			}
			return false
		}),
		retry.Attempts(t.cfg.RetryAttempts),
		retry.Delay(t.cfg.RetryDelay),
		retry.LastErrorOnly(true),
	)
}

func header(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

var (
	_ api.MailTransport = (*Transport)(nil)
	_ api.Acknowledger  = (*Transport)(nil)
)
