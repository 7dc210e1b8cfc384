// Package notify composes and sends contributor notifications.
// Delivery is pluggable; the shipped Sender writes messages to the log.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/datacat/catalog/meta"
	"github.com/teranos/datacat/errors"
	"github.com/teranos/datacat/logger"
)

// Message is one outgoing notification.
type Message struct {
	Subject   string
	Recipient string
	Body      string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender "delivers" messages by logging them.
type LogSender struct {
	from   string
	logger *zap.SugaredLogger
}

// NewLogSender creates a sender that logs each message as if sent from from.
func NewLogSender(from string, log *zap.SugaredLogger) *LogSender {
	if log == nil {
		log = logger.Logger
	}
	return &LogSender{from: from, logger: log.Named("notify")}
}

// Send logs msg. A message without a recipient is rejected.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.Recipient) == "" {
		return errors.NewInvalidRequestError("notification %q has no recipient", msg.Subject)
	}

	logger.FromContext(ctx, s.logger).Infow("Notification",
		"from", s.from,
		"to", msg.Recipient,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}

// Composer builds the catalog's notification texts.
type Composer struct {
	SiteURL  string
	TeamName string
}

// NewComposer creates a composer signing messages from the team at siteURL.
func NewComposer(siteURL string) Composer {
	return Composer{SiteURL: strings.TrimRight(siteURL, "/"), TeamName: "The datacat team"}
}

func (c Composer) signature() string {
	sig := "Thank you!\r\n" + c.TeamName
	if c.SiteURL != "" {
		sig += "\r\n" + c.SiteURL
	}
	return sig
}

// Submitted acknowledges a contributor's submission, addressed to the name
// and email given on the form.
func (c Composer) Submitted(rec *meta.Record) Message {
	body := fmt.Sprintf("Hello %s,\r\n\r\n"+
		"We received your recent dataset submission:\r\n\r\n%s\r\n\r\n"+
		"After we review it, we'll notify you when your data is loaded and available.\r\n\r\n%s",
		rec.ContributorName, rec.HumanName, c.signature())

	return Message{
		Subject:   "Your dataset has been submitted",
		Recipient: rec.ContributorEmail,
		Body:      body,
	}
}

// Approved tells the contributor their dataset was accepted.
func (c Composer) Approved(rec *meta.Record) Message {
	where := "the catalog"
	if c.SiteURL != "" {
		where = c.SiteURL
	}
	body := fmt.Sprintf("Hello %s,\r\n\r\n"+
		"Your dataset has been approved and added:\r\n\r\n%s\r\n\r\n"+
		"It should appear on %s within 24 hours.\r\n\r\n%s",
		rec.ContributorName, rec.HumanName, where, c.signature())

	return Message{
		Subject:   "Your dataset has been added",
		Recipient: rec.ContributorEmail,
		Body:      body,
	}
}

// ReviewRequested tells an administrator a submission is waiting for approval.
func (c Composer) ReviewRequested(rec *meta.Record, admin string) Message {
	body := fmt.Sprintf("A new dataset was submitted for review:\r\n\r\n%s\r\n%s\r\n\r\n"+
		"Submitted by %s <%s>", rec.HumanName, rec.SubmittedURL, rec.ContributorName, rec.ContributorEmail)
	if rec.ContributorOrganization != "" {
		body += " (" + rec.ContributorOrganization + ")"
	}

	return Message{
		Subject:   "Dataset awaiting review: " + rec.HumanName,
		Recipient: admin,
		Body:      body,
	}
}
