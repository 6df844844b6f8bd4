package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"ticketwatch/internal/components/telemetry"
	"ticketwatch/internal/models"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("internal/notify")

type SmtpConfig struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"email_address"`
	Password     string   `json:"password"`
	Recipients   []string `json:"recipients"`
}

type EmailNotifier struct {
	config SmtpConfig
	tel    telemetry.API
}

func NewEmailNotifier(config SmtpConfig, tel telemetry.API) EmailNotifier {
	return EmailNotifier{
		config: config,
		tel:    telemetry.NewScopedAPI("notify", tel),
	}
}

// Enabled is false when there is nobody to send to.
func (n EmailNotifier) Enabled() bool {
	return len(n.config.Recipients) > 0 && n.config.Server != ""
}

func (n EmailNotifier) NotifyChanges(ctx context.Context, endpoint models.MonitoredEndpoint, changes []models.ChangeEvent) error {
	if !n.Enabled() || len(changes) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "NotifyChanges")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", endpoint.EventID),
		attribute.Int("changes", len(changes)),
	)

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Ticketwatch <%s>", n.config.EmailAddress)
	mail.To = n.config.Recipients
	mail.Subject = Subject(endpoint, changes)
	mail.Text = []byte(Digest(endpoint, changes))

	addr := fmt.Sprintf("%s:%d", n.config.Server, n.config.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", n.config.EmailAddress, n.config.Password, n.config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		n.tel.ReportBroken("email.notify_changes", err, endpoint.EventID)
		return err
	}

	n.tel.ReportDebug("sent change digest", "event_id", endpoint.EventID, "changes", len(changes))
	return nil
}

func Subject(endpoint models.MonitoredEndpoint, changes []models.ChangeEvent) string {
	noun := "changes"
	if len(changes) == 1 {
		noun = "change"
	}
	return fmt.Sprintf("%d ticket %s for event %s", len(changes), noun, endpoint.EventID)
}

// Digest renders changes as one line each, oldest first.
func Digest(endpoint models.MonitoredEndpoint, changes []models.ChangeEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Listings changed for event %s\n%s\n\n", endpoint.EventID, endpoint.URL)
	for _, change := range changes {
		b.WriteString(change.Timestamp.UTC().Format("2006-01-02 15:04:05"))
		b.WriteString("  ")
		b.WriteString(describe(change))
		b.WriteByte('\n')
	}
	return b.String()
}

func describe(change models.ChangeEvent) string {
	d := change.Details
	switch change.Type {
	case models.PriceChange:
		return fmt.Sprintf("price change  %s: %s -> %s", d.SectionRow, d.OldPrice, d.NewPrice)
	case models.NewSection:
		return fmt.Sprintf("new listing   %s: %s", d.SectionRow, d.Price)
	default:
		return fmt.Sprintf("%s  %s", change.Type, d.SectionRow)
	}
}
