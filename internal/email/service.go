// Package email sends transactional mail over SMTP. When no SMTP host is
// configured the service logs the message instead of sending, so local
// development works without a mail server.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"net/smtp"
	"strings"
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	BaseURL  string
}

// Service sends email notifications.
type Service struct {
	cfg Config
}

func NewService(cfg Config) *Service {
	if cfg.From == "" {
		cfg.From = "GreenLedger <no-reply@greenledger.local>"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:3000"
	}
	return &Service{cfg: cfg}
}

// IsConfigured reports whether SMTP delivery is set up.
func (s *Service) IsConfigured() bool {
	return s.cfg.Host != "" && s.cfg.Port != ""
}

// SendEmail sends a plain-text email.
func (s *Service) SendEmail(to, subject, body string) error {
	if !s.IsConfigured() {
		log.Printf("email: SMTP not configured, skipping send to %s (subject: %s)", to, subject)
		return nil
	}

	msg := strings.Join([]string{
		"From: " + s.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		body,
	}, "\r\n")

	return s.send(to, []byte(msg))
}

// SendHTMLEmail sends an email with both plain-text and HTML parts.
func (s *Service) SendHTMLEmail(to, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		log.Printf("email: SMTP not configured, skipping send to %s (subject: %s)", to, subject)
		return nil
	}

	boundary := "greenledger-boundary-42"
	var b strings.Builder
	b.WriteString("From: " + s.cfg.From + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/alternative; boundary=\"" + boundary + "\"\r\n")
	b.WriteString("\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(textBody + "\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(htmlBody + "\r\n")
	b.WriteString("--" + boundary + "--\r\n")

	return s.send(to, []byte(b.String()))
}

func (s *Service) send(to string, msg []byte) error {
	addr := s.cfg.Host + ":" + s.cfg.Port
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, fromAddress(s.cfg.From), []string{to}, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// fromAddress extracts the bare address from a "Name <addr>" From header.
func fromAddress(from string) string {
	if i := strings.Index(from, "<"); i >= 0 {
		if j := strings.Index(from[i:], ">"); j > 0 {
			return from[i+1 : i+j]
		}
	}
	return from
}

const assignmentEmailHTML = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1a1a1a; max-width: 560px; margin: 0 auto;">
  <h2 style="color: #2e7d32;">GreenLedger</h2>
  <p>Hi {{.Name}},</p>
  <p>You have been assigned to answer a question in the <strong>{{.Standard}}</strong> standard for reporting year <strong>{{.Year}}</strong>.</p>
  <p><a href="{{.Link}}" style="background: #2e7d32; color: #fff; padding: 10px 18px; border-radius: 4px; text-decoration: none;">Open questionnaire</a></p>
  <p style="color: #666; font-size: 13px;">If you believe this assignment is a mistake, contact your reporting manager.</p>
</body>
</html>`

const reportReadyEmailHTML = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1a1a1a; max-width: 560px; margin: 0 auto;">
  <h2 style="color: #2e7d32;">GreenLedger</h2>
  <p>Hi {{.Name}},</p>
  <p>Your <strong>{{.Format}}</strong> report for <strong>{{.Standard}}</strong>, year <strong>{{.Year}}</strong>, is ready to download.</p>
  <p><a href="{{.Link}}" style="background: #2e7d32; color: #fff; padding: 10px 18px; border-radius: 4px; text-decoration: none;">Download report</a></p>
</body>
</html>`

const welcomeEmailHTML = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1a1a1a; max-width: 560px; margin: 0 auto;">
  <h2 style="color: #2e7d32;">Welcome to GreenLedger</h2>
  <p>Hi {{.Name}},</p>
  <p>Your account has been created. Sign in with your email address to start working on your sustainability disclosures.</p>
  <p><a href="{{.Link}}" style="background: #2e7d32; color: #fff; padding: 10px 18px; border-radius: 4px; text-decoration: none;">Sign in</a></p>
</body>
</html>`

const verifyEmailHTML = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1a1a1a; max-width: 560px; margin: 0 auto;">
  <h2 style="color: #2e7d32;">Verify your email address</h2>
  <p>Hi {{.Name}},</p>
  <p>Please confirm this email address for your GreenLedger account. The link expires in 24 hours.</p>
  <p><a href="{{.Link}}" style="background: #2e7d32; color: #fff; padding: 10px 18px; border-radius: 4px; text-decoration: none;">Verify email</a></p>
</body>
</html>`

const passwordResetEmailHTML = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1a1a1a; max-width: 560px; margin: 0 auto;">
  <h2 style="color: #2e7d32;">Reset your password</h2>
  <p>Hi {{.Name}},</p>
  <p>A password reset was requested for your GreenLedger account. The link expires in one hour. If you did not request this, you can ignore this email.</p>
  <p><a href="{{.Link}}" style="background: #2e7d32; color: #fff; padding: 10px 18px; border-radius: 4px; text-decoration: none;">Reset password</a></p>
</body>
</html>`

var (
	assignmentTmpl  = template.Must(template.New("assignment").Parse(assignmentEmailHTML))
	reportReadyTmpl = template.Must(template.New("report_ready").Parse(reportReadyEmailHTML))
	welcomeTmpl     = template.Must(template.New("welcome").Parse(welcomeEmailHTML))
	verifyTmpl      = template.Must(template.New("verify").Parse(verifyEmailHTML))
	resetTmpl       = template.Must(template.New("reset").Parse(passwordResetEmailHTML))
)

// SendAssignmentNotification tells a user they were assigned to a question.
func (s *Service) SendAssignmentNotification(to, name, standardName string, year int) error {
	link := fmt.Sprintf("%s/standards", s.cfg.BaseURL)
	data := struct {
		Name, Standard, Link string
		Year                 int
	}{name, standardName, link, year}

	var html bytes.Buffer
	if err := assignmentTmpl.Execute(&html, data); err != nil {
		return fmt.Errorf("render assignment email: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\n\nYou have been assigned to answer a question in %s for year %d.\n\nOpen: %s\n",
		name, standardName, year, link)

	return s.SendHTMLEmail(to, fmt.Sprintf("New assignment: %s (%d)", standardName, year), text, html.String())
}

// SendReportReadyNotification tells a user their generated report is available.
func (s *Service) SendReportReadyNotification(to, name, standardName, format string, year int, reportID string) error {
	link := fmt.Sprintf("%s/reports/%s", s.cfg.BaseURL, reportID)
	data := struct {
		Name, Standard, Format, Link string
		Year                         int
	}{name, standardName, strings.ToUpper(format), link, year}

	var html bytes.Buffer
	if err := reportReadyTmpl.Execute(&html, data); err != nil {
		return fmt.Errorf("render report email: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\n\nYour %s report for %s, year %d, is ready.\n\nDownload: %s\n",
		name, strings.ToUpper(format), standardName, year, link)

	return s.SendHTMLEmail(to, fmt.Sprintf("Report ready: %s (%d)", standardName, year), text, html.String())
}

// SendWelcomeEmail greets a newly created account.
func (s *Service) SendWelcomeEmail(to, name string) error {
	data := struct{ Name, Link string }{name, s.cfg.BaseURL + "/signin"}

	var html bytes.Buffer
	if err := welcomeTmpl.Execute(&html, data); err != nil {
		return fmt.Errorf("render welcome email: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\n\nYour GreenLedger account has been created. Sign in at %s/signin.\n", name, s.cfg.BaseURL)

	return s.SendHTMLEmail(to, "Welcome to GreenLedger", text, html.String())
}

// SendVerificationEmail carries the email verification link.
func (s *Service) SendVerificationEmail(to, name, token string) error {
	link := fmt.Sprintf("%s/verify-email?token=%s", s.cfg.BaseURL, token)
	data := struct{ Name, Link string }{name, link}

	var html bytes.Buffer
	if err := verifyTmpl.Execute(&html, data); err != nil {
		return fmt.Errorf("render verification email: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\n\nPlease verify your email address for GreenLedger:\n\n%s\n\nThe link expires in 24 hours.\n", name, link)

	return s.SendHTMLEmail(to, "Verify your GreenLedger email", text, html.String())
}

// SendPasswordResetEmail carries the one-hour reset link.
func (s *Service) SendPasswordResetEmail(to, name, token string) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", s.cfg.BaseURL, token)
	data := struct{ Name, Link string }{name, link}

	var html bytes.Buffer
	if err := resetTmpl.Execute(&html, data); err != nil {
		return fmt.Errorf("render reset email: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\n\nReset your GreenLedger password:\n\n%s\n\nThe link expires in one hour. If you did not request this, ignore this email.\n", name, link)

	return s.SendHTMLEmail(to, "Reset your GreenLedger password", text, html.String())
}
