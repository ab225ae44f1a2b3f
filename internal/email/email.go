// Package email sends transactional mail through the Brevo v3 API.
// Delivery is attempted once; failures surface as common.ErrExternalService.
package email

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/logging"
	"github.com/dmitrijs2005/fermentstation/internal/netx"
)

const (
	DefaultBaseURL    = "https://api.brevo.com"
	DefaultSender     = "hello@symbiose-kefir.fr"
	DefaultSenderName = "Symbiose Kefir"
	sendPath          = "/v3/smtp/email"
	serviceName       = "email"
)

type Config struct {
	APIKey     string
	Sender     string
	SenderName string
	BaseURL    string
	Timeout    time.Duration
}

type Attachment struct {
	Name    string
	Content []byte
}

type Message struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
	ReplyTo     string
}

// Sender is what the rest of the server depends on.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logging.Logger
}

func NewClient(cfg Config, log logging.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Sender == "" {
		cfg.Sender = DefaultSender
	}
	if cfg.SenderName == "" {
		cfg.SenderName = DefaultSenderName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With("module", "email"),
	}
}

type contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type attachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type sendRequest struct {
	Sender      contact      `json:"sender"`
	To          []contact    `json:"to"`
	Subject     string       `json:"subject"`
	HTMLContent string       `json:"htmlContent"`
	TextContent string       `json:"textContent"`
	Attachment  []attachment `json:"attachment,omitempty"`
	ReplyTo     *contact     `json:"replyTo,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

// Send delivers msg and returns the provider message id.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	if c.cfg.APIKey == "" {
		return "", common.ExternalError(serviceName, fmt.Errorf("BREVO_API_KEY is not set"))
	}
	if strings.TrimSpace(msg.To) == "" {
		return "", common.NewValidationError("to", "recipient is required")
	}

	body := sendRequest{
		Sender:      contact{Name: c.cfg.SenderName, Email: c.cfg.Sender},
		To:          []contact{{Email: msg.To}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
		TextContent: StripHTML(msg.HTML),
	}
	for _, a := range msg.Attachments {
		if len(a.Content) == 0 {
			continue
		}
		body.Attachment = append(body.Attachment, attachment{
			Name:    a.Name,
			Content: base64.StdEncoding.EncodeToString(a.Content),
		})
	}
	if msg.ReplyTo != "" {
		body.ReplyTo = &contact{Email: msg.ReplyTo}
	}

	req, err := netx.NewJSONRequest(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+sendPath, body)
	if err != nil {
		return "", common.ExternalError(serviceName, err)
	}
	req.Header.Set("api-key", c.cfg.APIKey)

	var out sendResponse
	if err := netx.DoJSON(c.http, req, &out, http.StatusOK, http.StatusCreated, http.StatusAccepted); err != nil {
		c.log.Error(ctx, "email delivery failed", "to", msg.To, "subject", msg.Subject, "error", err)
		return "", common.ExternalError(serviceName, err)
	}

	c.log.Info(ctx, "email sent", "to", msg.To, "message_id", out.MessageID)
	return out.MessageID, nil
}

// Signature renders the sender block appended to outgoing mail.
func (c *Client) Signature() string {
	return fmt.Sprintf("<br><br><div style='font-size:12px;color:#666'><strong>%s</strong><br>%s</div>",
		html.EscapeString(c.cfg.SenderName), html.EscapeString(c.cfg.Sender))
}

var (
	reBreak  = regexp.MustCompile(`(?i)<br\s*/?>`)
	rePara   = regexp.MustCompile(`(?i)</p\s*>`)
	reTag    = regexp.MustCompile(`<[^>]+>`)
	reBlanks = regexp.MustCompile(`[ \t]+`)
	reLines  = regexp.MustCompile(`\n{3,}`)
)

// StripHTML derives a plain-text alternative from an HTML body.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	s = reBreak.ReplaceAllString(s, "\n")
	s = rePara.ReplaceAllString(s, "\n\n")
	s = reTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = reBlanks.ReplaceAllString(s, " ")
	s = reLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
