// Package mailbody turns raw email payloads into the plaintext bodies that
// templates are matched against.
//
// Both Gmail API payloads and RFC 5322 messages are supported. A text/plain
// part is preferred; otherwise the first text/html part is converted to text.
package mailbody

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"
	"google.golang.org/api/gmail/v1"
)

// maxDepth bounds multipart nesting.
const maxDepth = 10

// FromGmail returns the plaintext body of a Gmail API message payload.
func FromGmail(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}
	if s, ok := findGmailPart(payload, "text/plain", 0); ok {
		return s
	}
	if s, ok := findGmailPart(payload, "text/html", 0); ok {
		return HTMLToText(s)
	}
	return ""
}

func findGmailPart(p *gmail.MessagePart, mimeType string, depth int) (string, bool) {
	if p == nil || depth > maxDepth {
		return "", false
	}
	if strings.EqualFold(p.MimeType, mimeType) && p.Body != nil && p.Body.Data != "" {
		data, err := decodeBase64URL(p.Body.Data)
		if err == nil {
			return string(data), true
		}
	}
	for _, child := range p.Parts {
		if s, ok := findGmailPart(child, mimeType, depth+1); ok {
			return s, true
		}
	}
	return "", false
}

// decodeBase64URL accepts both padded and unpadded base64url.
func decodeBase64URL(s string) ([]byte, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// Message is a parsed RFC 5322 message.
type Message struct {
	MessageID string
	Subject   string
	From      string
	Date      time.Time
	Body      string
}

// Parse reads one RFC 5322 message, decoding transfer encodings, charsets and
// RFC 2047 encoded headers. Date is zero when the header is missing or invalid.
func Parse(r io.Reader) (*Message, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("reading message: %w", err)
	}

	plain, html, err := walk(textproto.MIMEHeader(msg.Header), msg.Body, 0)
	if err != nil {
		return nil, err
	}
	body := plain
	if body == "" && html != "" {
		body = HTMLToText(html)
	}

	dec := &mime.WordDecoder{CharsetReader: charsetReader}
	out := &Message{
		MessageID: strings.Trim(msg.Header.Get("Message-Id"), "<> \t"),
		Subject:   decodeHeader(dec, msg.Header.Get("Subject")),
		From:      decodeHeader(dec, msg.Header.Get("From")),
		Body:      body,
	}
	if date, err := msg.Header.Date(); err == nil {
		out.Date = date
	}
	return out, nil
}

func decodeHeader(dec *mime.WordDecoder, v string) string {
	s, err := dec.DecodeHeader(v)
	if err != nil {
		return v
	}
	return s
}

// walk returns the first text/plain and text/html bodies found in a part tree.
func walk(header textproto.MIMEHeader, body io.Reader, depth int) (plain, html string, err error) {
	mediaType, params, err := mime.ParseMediaType(header.Get("Content-Type"))
	if err != nil {
		mediaType, params = "text/plain", nil
	}

	if disp, _, _ := mime.ParseMediaType(header.Get("Content-Disposition")); disp == "attachment" {
		return "", "", nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		if depth >= maxDepth {
			return "", "", nil
		}
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextRawPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return plain, html, fmt.Errorf("reading multipart: %w", err)
			}
			p, h, err := walk(part.Header, part, depth+1)
			if err != nil {
				return plain, html, err
			}
			if plain == "" {
				plain = p
			}
			if html == "" {
				html = h
			}
		}
		return plain, html, nil
	}

	if mediaType != "text/plain" && mediaType != "text/html" {
		return "", "", nil
	}

	text, err := decodePart(body, header.Get("Content-Transfer-Encoding"), params["charset"])
	if err != nil {
		return "", "", err
	}
	if mediaType == "text/html" {
		return "", text, nil
	}
	return text, "", nil
}

func decodePart(body io.Reader, encoding, charset string) (string, error) {
	r := body
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	}

	if cr, err := charsetReader(charset, r); err == nil {
		r = cr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decoding %s body: %w", encoding, err)
	}
	return string(data), nil
}

func charsetReader(label string, r io.Reader) (io.Reader, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" || label == "utf-8" || label == "utf8" {
		return r, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(r), nil
}
