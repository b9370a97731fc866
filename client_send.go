package mailer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/docker/go-units"
)

// SendResult describes a message the server accepted.
type SendResult struct {
	// Response is the text of the final reply to the message body.
	Response string

	// Code is the final reply code.
	Code int

	// EnhancedCode is the RFC 3463 status of the final reply, if any.
	EnhancedCode string

	// QueueID is the server-assigned queue ID, if the reply carried one.
	QueueID string

	// MessageID is the Message-ID header of the sent message.
	MessageID string

	// Recipients lists the envelope recipients in the order they were sent.
	Recipients []string

	// Size is the length of the DATA payload in bytes.
	Size int
}

// SendOne builds email and sends it in one transaction: MAIL FROM, RCPT TO
// for every to, cc and bcc recipient, DATA, then the rendered message.
//
// Validation errors (*InvalidContentError, *InvalidEmailError,
// ErrNoRecipients) are returned before any I/O and leave the session Ready.
// Any other failure closes the session; a rejected recipient is reported as
// *RecipientError and DATA is not issued.
func (c *Client) SendOne(ctx context.Context, email EmailOptions) (*SendResult, error) {
	c.mu.Lock()
	defer c.unlock()

	switch c.state {
	case StateReady:
	case StateClosed:
		return nil, ErrClientClosed
	default:
		return nil, ErrNotReady
	}

	built, err := c.builder.Build(email)
	if err != nil {
		c.notify(func() { c.hooks.failed(&email, err) })
		return nil, err
	}
	payload, err := built.Render()
	if err != nil {
		c.notify(func() { c.hooks.failed(&email, err) })
		return nil, err
	}

	result, err := c.transaction(ctx, built, payload)
	if err != nil {
		c.logger.Warn("smtp send failed",
			slog.String("message_id", built.MessageID()),
			slog.Any("error", err))
		c.notify(func() { c.hooks.failed(&email, err) })
		c.abort(ctx, err)
		return nil, err
	}

	c.logger.Info("smtp message sent",
		slog.String("message_id", result.MessageID),
		slog.Int("recipients", len(result.Recipients)),
		slog.String("size", units.HumanSize(float64(result.Size))),
		slog.String("queue_id", result.QueueID),
	)
	c.notify(func() { c.hooks.sent(email, result.Response) })
	return result, nil
}

func (c *Client) transaction(ctx context.Context, e *Email, payload []byte) (*SendResult, error) {
	mailParams, rcptParams := c.dsnParams(e.DSNOverride)

	reply, err := c.cmd(ctx, "mail", "MAIL FROM:<"+e.From.Email+">"+mailParams)
	if err != nil {
		return nil, err
	}
	if !reply.Positive() {
		return nil, replyError("MAIL FROM", reply)
	}

	recipients := e.Recipients()
	for _, rcpt := range recipients {
		reply, err := c.cmd(ctx, "rcpt", "RCPT TO:<"+rcpt+">"+rcptParams)
		if err != nil {
			return nil, err
		}
		if !reply.Positive() {
			return nil, &RecipientError{
				Recipient:    rcpt,
				ReplyCode:    reply.Code,
				EnhancedCode: reply.EnhancedCode(),
				Reply:        reply.String(),
			}
		}
	}

	reply, err = c.cmd(ctx, "data", "DATA")
	if err != nil {
		return nil, err
	}
	if !reply.Intermediate() {
		return nil, replyError("DATA", reply)
	}

	c.logger.Debug("smtp client", slog.String("line", "<message "+units.HumanSize(float64(len(payload)))+">"))
	if err := c.t.write(ctx, payload); err != nil {
		return nil, c.ioError(ctx, "data", err)
	}
	reply, err = c.reply(ctx, "data")
	if err != nil {
		return nil, err
	}
	if !reply.Positive() {
		return nil, replyError("DATA", reply)
	}

	return &SendResult{
		Response:     reply.Message(),
		Code:         reply.Code,
		EnhancedCode: reply.EnhancedCode(),
		QueueID:      extractQueueID(reply.Message()),
		MessageID:    e.MessageID(),
		Recipients:   recipients,
		Size:         len(payload),
	}, nil
}

// dsnParams returns the MAIL FROM and RCPT TO parameter suffixes (each with
// a leading space) for RFC 3461. Both are empty unless the server advertised
// DSN. Fields of the per-message override win over the session defaults.
func (c *Client) dsnParams(override *DSNOverride) (mail, rcpt string) {
	if !c.caps.DSN {
		return "", ""
	}

	var (
		ret    *DSNRet
		notify *DSNNotify
		envID  string
	)
	if c.opts.DSN != nil {
		ret, notify = c.opts.DSN.Ret, c.opts.DSN.Notify
	}
	if override != nil {
		if override.Ret != nil {
			ret = override.Ret
		}
		if override.Notify != nil {
			notify = override.Notify
		}
		envID = override.EnvelopeID
	}

	var params []string
	switch {
	case ret == nil:
	case ret.Full:
		params = append(params, "RET=FULL")
	case ret.Headers:
		params = append(params, "RET=HDRS")
	}
	if envID != "" {
		params = append(params, "ENVID="+xtext(envID))
	}
	if len(params) > 0 {
		mail = " " + strings.Join(params, " ")
	}

	if notify != nil {
		rcpt = " NOTIFY=" + notifyValue(notify)
	}
	return mail, rcpt
}

func notifyValue(n *DSNNotify) string {
	var events []string
	if n.Success {
		events = append(events, "SUCCESS")
	}
	if n.Failure {
		events = append(events, "FAILURE")
	}
	if n.Delay {
		events = append(events, "DELAY")
	}
	if len(events) == 0 {
		return "NEVER"
	}
	return strings.Join(events, ",")
}

// xtext encodes s per RFC 3461 §4: printable ASCII other than '+' and '='
// passes through, everything else becomes "+HH".
func xtext(s string) string {
	const hex = "0123456789ABCDEF"
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b >= '!' && b <= '~' && b != '+' && b != '=' {
			sb.WriteByte(b)
			continue
		}
		sb.WriteByte('+')
		sb.WriteByte(hex[b>>4])
		sb.WriteByte(hex[b&0x0F])
	}
	return sb.String()
}

// extractQueueID tries to extract a queue ID from the server response.
func extractQueueID(msg string) string {
	// Common patterns: "queued as ABC123", "id=ABC123", "<ABC123@server>"
	msg = strings.TrimSpace(msg)

	if start := strings.Index(msg, "<"); start != -1 {
		if end := strings.Index(msg[start:], ">"); end != -1 {
			return msg[start : start+end+1]
		}
	}

	lower := strings.ToLower(msg)
	for _, marker := range []string{"queued as ", "id="} {
		if idx := strings.Index(lower, marker); idx != -1 {
			if parts := strings.Fields(msg[idx+len(marker):]); len(parts) > 0 {
				return parts[0]
			}
		}
	}
	return ""
}
