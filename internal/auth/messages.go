// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package auth

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"
	"net/url"
	"strings"

	"github.com/samber/oops"

	"github.com/pygmalion/accounts/internal/notify"
	"github.com/pygmalion/accounts/pkg/errutil"
)

// Notifier delivers account emails. Delivery is fire-and-forget: failures
// are the notifier's concern and never reach the caller.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message)
}

// Email subjects.
const (
	SubjectVerifyEmail       = "Competencias Robótica Pygmalion - Verify Email"
	SubjectAlreadyRegistered = "Competencias Robótica Pygmalion - Email Already Registered"
	SubjectResetPassword     = "Competencias Robótica Pygmalion - Reset Password"
)

var messageTemplates = template.Must(template.New("messages").Parse(`
{{define "verify"}}<h4>Verify Email</h4>
<p>Thanks for registering!</p>
{{if .Link}}<p>Please click the below link to verify your email address:</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
{{else}}<p>Please use the below token to verify your email address with the <code>/account/verify-email</code> api route:</p>
<p><code>{{.Token}}</code></p>
{{end}}{{end}}
{{define "already-registered"}}<h4>Email Already Registered</h4>
<p>Your email <strong>{{.Email}}</strong> is already registered.</p>
{{if .Link}}<p>If you don't know your password please visit the <a href="{{.Link}}">forgot password</a> page.</p>
{{else}}<p>If you don't know your password you can reset it via the <code>/account/forgot-password</code> api route.</p>
{{end}}{{end}}
{{define "reset"}}<h4>Reset Password Email</h4>
{{if .Link}}<p>Please click the below link to reset your password, the link will be valid for 1 day:</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
{{else}}<p>Please use the below token to reset your password with the <code>/account/reset-password</code> api route:</p>
<p><code>{{.Token}}</code></p>
{{end}}{{end}}
`))

type messageData struct {
	Email string
	Token string
	Link  string
}

// VerificationMessage builds the email sent after registration.
func VerificationMessage(email, token, origin string) (notify.Message, error) {
	return renderMessage("verify", email, SubjectVerifyEmail, messageData{
		Email: email,
		Token: token,
		Link:  originLink(origin, "/account/verify-email", token),
	})
}

// AlreadyRegisteredMessage builds the email sent when a registration reuses
// an existing address.
func AlreadyRegisteredMessage(email, origin string) (notify.Message, error) {
	return renderMessage("already-registered", email, SubjectAlreadyRegistered, messageData{
		Email: email,
		Link:  originLink(origin, "/account/forgot-password", ""),
	})
}

// ResetPasswordMessage builds the email carrying a password reset token.
func ResetPasswordMessage(email, token, origin string) (notify.Message, error) {
	return renderMessage("reset", email, SubjectResetPassword, messageData{
		Email: email,
		Token: token,
		Link:  originLink(origin, "/account/reset-password", token),
	})
}

func renderMessage(name, to, subject string, data messageData) (notify.Message, error) {
	var buf bytes.Buffer
	if err := messageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return notify.Message{}, oops.Code("MESSAGE_RENDER_FAILED").
			With("template", name).
			Wrap(err)
	}
	return notify.Message{To: to, Subject: subject, HTMLBody: strings.TrimSpace(buf.String())}, nil
}

// originLink returns "" when origin is empty so the body falls back to the bare token.
func originLink(origin, path, token string) string {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	if origin == "" {
		return ""
	}
	link := origin + path
	if token != "" {
		link += "?token=" + url.QueryEscape(token)
	}
	return link
}

// deliver hands a rendered message to the notifier. Render failures are
// logged and dropped like any other delivery failure.
func deliver(ctx context.Context, n Notifier, logger *slog.Logger, msg notify.Message, renderErr error) {
	if renderErr != nil {
		errutil.LogError(logger, "account email not sent", renderErr)
		return
	}
	n.Notify(ctx, msg)
}
