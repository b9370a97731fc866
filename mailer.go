// Package mailer is an outbound SMTP client that builds MIME messages from
// structured input and submits them over a single session.
//
// # Sending
//
// Send one message with a throwaway session:
//
//	res, err := mailer.Send(ctx, mailer.Options{
//	    Host:        "smtp.example.com",
//	    Credentials: &sasl.Credentials{Username: "user", Password: "pass"},
//	}, mailer.EmailOptions{
//	    From:    mailer.Addr("sender@example.com"),
//	    To:      mailer.Addrs("recipient@example.com"),
//	    Subject: "Hello",
//	    Text:    "Message body",
//	})
//
// Or keep a session open for several messages:
//
//	client, err := mailer.Connect(ctx, opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close(ctx)
//
//	for _, msg := range messages {
//	    if _, err := client.SendOne(ctx, msg); err != nil {
//	        log.Printf("send failed: %v", err)
//	    }
//	}
//
// A session is closed after any protocol or I/O failure; validation errors
// (*InvalidContentError, *InvalidEmailError) leave it usable.
//
// # Messages
//
// Build resolves headers once and Render produces the DATA payload:
//
//	email, err := mailer.Build(mailer.EmailOptions{...})
//	payload, err := email.Render()
//
// The document is multipart/mixed with a multipart/alternative body
// (quoted-printable text and HTML), a multipart/related wrapper when inline
// attachments are present, and base64 attachment parts.
//
// # Extensions
//
// The client recognizes these server extensions:
//   - STARTTLS (RFC 3207) - upgraded automatically unless DisableStartTLS is set
//   - AUTH (RFC 4954) - PLAIN and LOGIN
//   - DSN (RFC 3461) - RET, ENVID and NOTIFY parameters from Options.DSN
//
// # Errors
//
// Every error type has a Code method returning a stable string; ErrorCode
// extracts it from a wrapped error.
package mailer
