package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-mbox"

	"github.com/ArionMiles/mailspend/pkg/api"
)

// sink receives dumped messages.
type sink interface {
	Write(p api.Provider, msg *api.Message) error
	Close() error
}

// dump fetches up to limit messages per provider query and hands them to
// out. A limit of zero means no limit. Failed messages are logged and skipped.
func dump(ctx context.Context, transport api.MailTransport, providers []api.Provider, out sink, limit int, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	total := 0
	for _, p := range providers {
		logger := logger.With("provider", p.Name)

		ids, err := transport.ListMessageIDs(ctx, p.Template.GmailQuery)
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			logger.Error("failed to list messages", "query", p.Template.GmailQuery, "error", err)
			continue
		}
		if limit > 0 && len(ids) > limit {
			ids = ids[:limit]
		}

		count := 0
		for _, id := range ids {
			msg, err := transport.FetchMessage(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return total, ctx.Err()
				}
				logger.Warn("failed to fetch message", "message_id", id, "error", err)
				continue
			}
			if err := out.Write(p, msg); err != nil {
				return total, fmt.Errorf("writing message %s: %w", id, err)
			}
			count++
		}

		logger.Info("dumped messages for provider", "count", count)
		total += count
	}
	return total, nil
}

// mboxSink appends messages to a single mbox file.
type mboxSink struct {
	f *os.File
	w *mbox.Writer
}

func newMboxSink(path string) (*mboxSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating mbox: %w", err)
	}
	return &mboxSink{f: f, w: mbox.NewWriter(f)}, nil
}

func (s *mboxSink) Write(p api.Provider, msg *api.Message) error {
	date := msg.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}

	mw, err := s.w.CreateMessage(envelopeSender(msg.From), date)
	if err != nil {
		return err
	}
	return writeMessage(mw, p, msg, date)
}

func (s *mboxSink) Close() error {
	return errors.Join(s.w.Close(), s.f.Close())
}

// envelopeSender returns the bare address of a From header for the mbox
// separator line.
func envelopeSender(from string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		return addr.Address
	}
	if from = strings.TrimSpace(from); from != "" && !strings.ContainsAny(from, " \t") {
		return from
	}
	return "MAILER-DAEMON"
}

func writeMessage(w io.Writer, p api.Provider, msg *api.Message, date time.Time) error {
	header := fmt.Sprintf("Message-ID: <%s>\r\nFrom: %s\r\nSubject: %s\r\nDate: %s\r\nX-Mailspend-Provider: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		msg.ID, msg.From, msg.Subject, date.Format(time.RFC1123Z), p.Name)
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	_, err := io.WriteString(w, strings.ReplaceAll(body, "\n", "\r\n"))
	return err
}

// dirSink writes one plaintext body per file. Existing files are kept.
type dirSink struct {
	dir    string
	logger *slog.Logger
}

func newDirSink(dir string, logger *slog.Logger) (*dirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating dump directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &dirSink{dir: dir, logger: logger}, nil
}

func (s *dirSink) Write(p api.Provider, msg *api.Message) error {
	if strings.TrimSpace(msg.Body) == "" {
		return nil
	}

	name := sanitizeFilename(fmt.Sprintf("%s_%s_%s", p.Name, msg.Date.Format("2006-01-02_150405"), msg.Subject)) + ".txt"
	path := filepath.Join(s.dir, name)

	if _, err := os.Stat(path); err == nil {
		s.logger.Debug("file already exists, skipping", "file", name)
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := os.WriteFile(path, []byte(msg.Body), 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	s.logger.Debug("dumped email", "file", name, "subject", msg.Subject)
	return nil
}

func (s *dirSink) Close() error { return nil }

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\s]`)
	underscores = regexp.MustCompile(`_+`)
)

func sanitizeFilename(name string) string {
	name = unsafeChars.ReplaceAllString(name, "_")
	name = underscores.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}
