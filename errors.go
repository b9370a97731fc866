package mailer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/synqronlabs/mailer/sasl"
)

// Stable error codes returned by the Code method of every mailer error.
const (
	CodeInvalidContent    = "INVALID_CONTENT"
	CodeInvalidEmail      = "INVALID_EMAIL"
	CodeConnectionFailed  = "CONNECTION_FAILED"
	CodeAuthFailed        = "AUTH_FAILED"
	CodeRecipientRejected = "RECIPIENT_REJECTED"
	CodeTimeout           = "TIMEOUT"
	CodeSMTPError         = "SMTP_ERROR"
)

var (
	ErrClientClosed = errors.New("smtp: client closed")
	ErrNotReady     = errors.New("smtp: session not ready")

	// ErrNoRecipients is returned by Build when To is empty. It carries
	// CodeInvalidContent.
	ErrNoRecipients error = &InvalidContentError{Reason: "at least one recipient is required"}
)

// InvalidContentError is returned when a message has neither a text nor an
// HTML body, or carries a header the builder cannot emit.
type InvalidContentError struct {
	Reason string
}

func (e *InvalidContentError) Error() string {
	return "mailer: invalid content: " + e.Reason
}

func (e *InvalidContentError) Code() string { return CodeInvalidContent }

// InvalidEmailError lists every address that failed validation, in the order
// from, to, reply, cc, bcc.
type InvalidEmailError struct {
	Addresses []string
}

func (e *InvalidEmailError) Error() string {
	return fmt.Sprintf("mailer: invalid email address(es): %s", strings.Join(e.Addresses, ", "))
}

func (e *InvalidEmailError) Code() string { return CodeInvalidEmail }

// ConnectionError reports a transport or session setup failure. Reply holds
// the server reply when one was received.
type ConnectionError struct {
	Op    string
	Reply string
	Err   error
}

func (e *ConnectionError) Error() string {
	switch {
	case e.Err != nil && e.Reply != "":
		return fmt.Sprintf("smtp: %s failed: %v: %s", e.Op, e.Err, e.Reply)
	case e.Err != nil:
		return fmt.Sprintf("smtp: %s failed: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("smtp: %s failed: %s", e.Op, e.Reply)
	}
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Code() string { return CodeConnectionFailed }

// AuthError reports missing credentials, no usable mechanism, or a rejected
// exchange.
type AuthError struct {
	Mechanism sasl.Mechanism
	Reply     string
	Err       error
}

func (e *AuthError) Error() string {
	var sb strings.Builder
	sb.WriteString("smtp: authentication failed")
	if e.Mechanism != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Mechanism.String())
		sb.WriteString(")")
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	if e.Reply != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Reply)
	}
	return sb.String()
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Code() string { return CodeAuthFailed }

// RecipientError reports a RCPT TO rejection for one address.
type RecipientError struct {
	Recipient    string
	ReplyCode    int
	EnhancedCode string
	Reply        string
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("smtp: recipient %s rejected: %s", e.Recipient, e.Reply)
}

func (e *RecipientError) Code() string { return CodeRecipientRejected }

// IsPermanent returns true if this is a permanent failure (5xx).
func (e *RecipientError) IsPermanent() bool {
	return e.ReplyCode >= 500 && e.ReplyCode < 600
}

// TimeoutError reports an operation that exceeded its deadline. The session
// is closed afterwards.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("smtp: %s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Code() string { return CodeTimeout }

// Timeout lets callers treat the error as a net.Error timeout.
func (e *TimeoutError) Timeout() bool { return true }

// SMTPError is a negative reply to MAIL FROM, DATA or the message body.
type SMTPError struct {
	Command      string
	ReplyCode    int
	EnhancedCode string
	Message      string
}

func (e *SMTPError) Error() string {
	if e.EnhancedCode != "" {
		return fmt.Sprintf("smtp: %s: %d %s: %s", e.Command, e.ReplyCode, e.EnhancedCode, e.Message)
	}
	return fmt.Sprintf("smtp: %s: %d: %s", e.Command, e.ReplyCode, e.Message)
}

func (e *SMTPError) Code() string { return CodeSMTPError }

// IsPermanent returns true if this is a permanent failure (5xx).
func (e *SMTPError) IsPermanent() bool {
	return e.ReplyCode >= 500 && e.ReplyCode < 600
}

// IsTransient returns true if this is a transient failure (4xx).
func (e *SMTPError) IsTransient() bool {
	return e.ReplyCode >= 400 && e.ReplyCode < 500
}

// ErrorCode returns the stable code of the first mailer error in err's chain,
// or "" when there is none.
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return ""
}
