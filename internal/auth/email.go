package auth

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// TemplateKind selects the email template rendered by the delivery side.
type TemplateKind string

const (
	TemplateVerification TemplateKind = "verification"
	TemplateReset        TemplateKind = "reset"
)

const (
	subjectVerification = "Account Verification"
	subjectReset        = "Password Reset"

	verificationPath = "/api/v1/verified-account/"
	resetPath        = "/api/v1/reset-password/"
)

// EmailRequest is handed to the delivery collaborator.
type EmailRequest struct {
	RecipientEmail string       `json:"recipientEmail" msgpack:"recipient_email"`
	Subject        string       `json:"subject" msgpack:"subject"`
	TemplateKind   TemplateKind `json:"templateKind" msgpack:"template_kind"`
	Link           string       `json:"link" msgpack:"link"`
}

// EmailSender accepts a request for asynchronous delivery. Send must not block on
// delivery and has no result; failures are the sender's to log.
type EmailSender interface {
	Send(ctx context.Context, req EmailRequest)
}

// LinkBuilder renders scheme://host:port/api/v1/... links.
type LinkBuilder struct {
	Scheme string
	Host   string
	Port   int
}

// VerificationLink returns the account verification link for token.
func (b LinkBuilder) VerificationLink(token string) string {
	return b.build(verificationPath, token)
}

// ResetLink returns the password reset link for token.
func (b LinkBuilder) ResetLink(token string) string {
	return b.build(resetPath, token)
}

func (b LinkBuilder) build(path, token string) string {
	scheme := strings.TrimSpace(b.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	host := strings.TrimSpace(b.Host)
	if host == "" {
		host = "localhost"
	}
	if b.Port > 0 {
		host = host + ":" + strconv.Itoa(b.Port)
	}
	return fmt.Sprintf("%s://%s%s%s", scheme, host, path, url.PathEscape(token))
}

func verificationEmail(to string, links LinkBuilder, token string) EmailRequest {
	return EmailRequest{
		RecipientEmail: to,
		Subject:        subjectVerification,
		TemplateKind:   TemplateVerification,
		Link:           links.VerificationLink(token),
	}
}

func resetEmail(to string, links LinkBuilder, token string) EmailRequest {
	return EmailRequest{
		RecipientEmail: to,
		Subject:        subjectReset,
		TemplateKind:   TemplateReset,
		Link:           links.ResetLink(token),
	}
}
