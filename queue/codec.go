package queue

import (
	"time"

	"github.com/tinylib/msgp/msgp"

	"github.com/synqronlabs/mailer"
	"github.com/synqronlabs/mailer/sasl"
)

// Messages travel as MessagePack maps with snake_case keys. Unknown keys are
// skipped so that older consumers can read newer messages.
//
// Hand-maintained in the shape msgp generates: Message embeds mailer types
// (Recipient, DSNOptions, attachments) that carry no msgp tags. Do not run
// msgp over this package; edit the functions below and extend codec_test.go
// when a field is added.

var (
	_ msgp.Marshaler   = (*Message)(nil)
	_ msgp.Unmarshaler = (*Message)(nil)
	_ msgp.Sizer       = (*Message)(nil)
)

// MarshalMsg implements msgp.Marshaler
func (z *Message) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendMapHeader(o, 4)
	o = msgp.AppendString(o, "id")
	o = msgp.AppendBytes(o, z.ID[:])
	o = msgp.AppendString(o, "attempts")
	o = msgp.AppendInt(o, z.Attempts)
	o = msgp.AppendString(o, "sender")
	o = appendSender(o, &z.Sender)
	o = msgp.AppendString(o, "email")
	o = appendEmail(o, &z.Email)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *Message) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		err = msgp.WrapError(err)
		return
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			err = msgp.WrapError(err)
			return
		}
		switch msgp.UnsafeString(field) {
		case "id":
			bts, err = msgp.ReadExactBytes(bts, z.ID[:])
			if err != nil {
				err = msgp.WrapError(err, "ID")
				return
			}
		case "attempts":
			z.Attempts, bts, err = msgp.ReadIntBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Attempts")
				return
			}
		case "sender":
			bts, err = readSender(bts, &z.Sender)
			if err != nil {
				err = msgp.WrapError(err, "Sender")
				return
			}
		case "email":
			bts, err = readEmail(bts, &z.Email)
			if err != nil {
				err = msgp.WrapError(err, "Email")
				return
			}
		default:
			bts, err = msgp.Skip(bts)
			if err != nil {
				err = msgp.WrapError(err)
				return
			}
		}
	}
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied by the serialized message
func (z *Message) Msgsize() (s int) {
	s = 1 + 3 + msgp.BytesPrefixSize + len(z.ID) + 9 + msgp.IntSize + 7 + senderSize(&z.Sender) + 6 + emailSize(&z.Email)
	return
}

func appendSender(o []byte, z *SenderOptions) []byte {
	o = msgp.AppendMapHeader(o, 14)
	o = msgp.AppendString(o, "host")
	o = msgp.AppendString(o, z.Host)
	o = msgp.AppendString(o, "port")
	o = msgp.AppendInt(o, z.Port)
	o = msgp.AppendString(o, "secure")
	o = msgp.AppendBool(o, z.Secure)
	o = msgp.AppendString(o, "disable_starttls")
	o = msgp.AppendBool(o, z.DisableStartTLS)
	o = msgp.AppendString(o, "username")
	o = msgp.AppendString(o, z.Username)
	o = msgp.AppendString(o, "password")
	o = msgp.AppendString(o, z.Password)
	o = msgp.AppendString(o, "auth_types")
	o = msgp.AppendArrayHeader(o, uint32(len(z.AuthTypes)))
	for _, m := range z.AuthTypes {
		o = msgp.AppendString(o, string(m))
	}
	o = msgp.AppendString(o, "dsn")
	if z.DSN == nil {
		o = msgp.AppendNil(o)
	} else {
		o = msgp.AppendMapHeader(o, 2)
		o = msgp.AppendString(o, "ret")
		o = appendRet(o, z.DSN.Ret)
		o = msgp.AppendString(o, "notify")
		o = appendNotify(o, z.DSN.Notify)
	}
	o = msgp.AppendString(o, "socket_timeout")
	o = msgp.AppendInt64(o, int64(z.SocketTimeout))
	o = msgp.AppendString(o, "response_timeout")
	o = msgp.AppendInt64(o, int64(z.ResponseTimeout))
	o = msgp.AppendString(o, "local_name")
	o = msgp.AppendString(o, z.LocalName)
	o = msgp.AppendString(o, "proxy")
	o = msgp.AppendString(o, z.Proxy)
	o = msgp.AppendString(o, "resolve_mx")
	o = msgp.AppendBool(o, z.ResolveMX)
	o = msgp.AppendString(o, "log_level")
	o = msgp.AppendString(o, string(z.LogLevel))
	return o
}

func readSender(bts []byte, z *SenderOptions) (o []byte, err error) {
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return
		}
		var s string
		var d int64
		switch msgp.UnsafeString(field) {
		case "host":
			z.Host, bts, err = msgp.ReadStringBytes(bts)
		case "port":
			z.Port, bts, err = msgp.ReadIntBytes(bts)
		case "secure":
			z.Secure, bts, err = msgp.ReadBoolBytes(bts)
		case "disable_starttls":
			z.DisableStartTLS, bts, err = msgp.ReadBoolBytes(bts)
		case "username":
			z.Username, bts, err = msgp.ReadStringBytes(bts)
		case "password":
			z.Password, bts, err = msgp.ReadStringBytes(bts)
		case "auth_types":
			var n uint32
			n, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				return bts, msgp.WrapError(err, "AuthTypes")
			}
			z.AuthTypes = nil
			if n > 0 {
				z.AuthTypes = make([]sasl.Mechanism, n)
			}
			for i := range z.AuthTypes {
				s, bts, err = msgp.ReadStringBytes(bts)
				if err != nil {
					return bts, msgp.WrapError(err, "AuthTypes", i)
				}
				z.AuthTypes[i] = sasl.Mechanism(s)
			}
		case "dsn":
			if msgp.IsNil(bts) {
				bts, err = msgp.ReadNilBytes(bts)
				z.DSN = nil
				break
			}
			z.DSN = new(mailer.DSNOptions)
			bts, err = readDSNOptions(bts, z.DSN)
		case "socket_timeout":
			d, bts, err = msgp.ReadInt64Bytes(bts)
			z.SocketTimeout = time.Duration(d)
		case "response_timeout":
			d, bts, err = msgp.ReadInt64Bytes(bts)
			z.ResponseTimeout = time.Duration(d)
		case "local_name":
			z.LocalName, bts, err = msgp.ReadStringBytes(bts)
		case "proxy":
			z.Proxy, bts, err = msgp.ReadStringBytes(bts)
		case "resolve_mx":
			z.ResolveMX, bts, err = msgp.ReadBoolBytes(bts)
		case "log_level":
			s, bts, err = msgp.ReadStringBytes(bts)
			z.LogLevel = mailer.LogLevel(s)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

func senderSize(z *SenderOptions) (s int) {
	s = 1 + 5 + msgp.StringPrefixSize + len(z.Host) + 5 + msgp.IntSize + 7 + msgp.BoolSize +
		17 + msgp.BoolSize + 9 + msgp.StringPrefixSize + len(z.Username) +
		9 + msgp.StringPrefixSize + len(z.Password) + 11 + msgp.ArrayHeaderSize
	for _, m := range z.AuthTypes {
		s += msgp.StringPrefixSize + len(m)
	}
	s += 4 + 1 + 4 + retSize + 7 + notifySize
	s += 15 + msgp.Int64Size + 17 + msgp.Int64Size + 11 + msgp.StringPrefixSize + len(z.LocalName) +
		6 + msgp.StringPrefixSize + len(z.Proxy) + 11 + msgp.BoolSize + 10 + msgp.StringPrefixSize + len(z.LogLevel)
	return
}

func readDSNOptions(bts []byte, z *mailer.DSNOptions) (o []byte, err error) {
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return
		}
		switch msgp.UnsafeString(field) {
		case "ret":
			z.Ret, bts, err = readRet(bts)
		case "notify":
			z.Notify, bts, err = readNotify(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

const (
	retSize    = 1 + 8 + msgp.BoolSize + 5 + msgp.BoolSize
	notifySize = 1 + 6 + msgp.BoolSize + 8 + msgp.BoolSize + 8 + msgp.BoolSize
)

func appendRet(o []byte, r *mailer.DSNRet) []byte {
	if r == nil {
		return msgp.AppendNil(o)
	}
	o = msgp.AppendMapHeader(o, 2)
	o = msgp.AppendString(o, "headers")
	o = msgp.AppendBool(o, r.Headers)
	o = msgp.AppendString(o, "full")
	return msgp.AppendBool(o, r.Full)
}

func readRet(bts []byte) (r *mailer.DSNRet, o []byte, err error) {
	if msgp.IsNil(bts) {
		o, err = msgp.ReadNilBytes(bts)
		return nil, o, err
	}
	r = new(mailer.DSNRet)
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return nil, bts, err
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return nil, bts, err
		}
		switch msgp.UnsafeString(field) {
		case "headers":
			r.Headers, bts, err = msgp.ReadBoolBytes(bts)
		case "full":
			r.Full, bts, err = msgp.ReadBoolBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return nil, bts, err
		}
	}
	return r, bts, nil
}

func appendNotify(o []byte, n *mailer.DSNNotify) []byte {
	if n == nil {
		return msgp.AppendNil(o)
	}
	o = msgp.AppendMapHeader(o, 3)
	o = msgp.AppendString(o, "delay")
	o = msgp.AppendBool(o, n.Delay)
	o = msgp.AppendString(o, "failure")
	o = msgp.AppendBool(o, n.Failure)
	o = msgp.AppendString(o, "success")
	return msgp.AppendBool(o, n.Success)
}

func readNotify(bts []byte) (n *mailer.DSNNotify, o []byte, err error) {
	if msgp.IsNil(bts) {
		o, err = msgp.ReadNilBytes(bts)
		return nil, o, err
	}
	n = new(mailer.DSNNotify)
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return nil, bts, err
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return nil, bts, err
		}
		switch msgp.UnsafeString(field) {
		case "delay":
			n.Delay, bts, err = msgp.ReadBoolBytes(bts)
		case "failure":
			n.Failure, bts, err = msgp.ReadBoolBytes(bts)
		case "success":
			n.Success, bts, err = msgp.ReadBoolBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return nil, bts, err
		}
	}
	return n, bts, nil
}

func appendEmail(o []byte, z *mailer.EmailOptions) []byte {
	o = msgp.AppendMapHeader(o, 11)
	o = msgp.AppendString(o, "from")
	o = appendRecipient(o, z.From)
	o = msgp.AppendString(o, "to")
	o = appendRecipients(o, z.To)
	o = msgp.AppendString(o, "reply")
	if z.Reply == nil {
		o = msgp.AppendNil(o)
	} else {
		o = appendRecipient(o, *z.Reply)
	}
	o = msgp.AppendString(o, "cc")
	o = appendRecipients(o, z.Cc)
	o = msgp.AppendString(o, "bcc")
	o = appendRecipients(o, z.Bcc)
	o = msgp.AppendString(o, "subject")
	o = msgp.AppendString(o, z.Subject)
	o = msgp.AppendString(o, "text")
	o = msgp.AppendString(o, z.Text)
	o = msgp.AppendString(o, "html")
	o = msgp.AppendString(o, z.HTML)
	o = msgp.AppendString(o, "headers")
	o = msgp.AppendMapStrStr(o, z.Headers)
	o = msgp.AppendString(o, "attachments")
	o = msgp.AppendArrayHeader(o, uint32(len(z.Attachments)))
	for i := range z.Attachments {
		o = appendAttachment(o, &z.Attachments[i])
	}
	o = msgp.AppendString(o, "dsn_override")
	if z.DSNOverride == nil {
		o = msgp.AppendNil(o)
	} else {
		o = msgp.AppendMapHeader(o, 3)
		o = msgp.AppendString(o, "envelope_id")
		o = msgp.AppendString(o, z.DSNOverride.EnvelopeID)
		o = msgp.AppendString(o, "ret")
		o = appendRet(o, z.DSNOverride.Ret)
		o = msgp.AppendString(o, "notify")
		o = appendNotify(o, z.DSNOverride.Notify)
	}
	return o
}

func readEmail(bts []byte, z *mailer.EmailOptions) (o []byte, err error) {
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return
		}
		switch msgp.UnsafeString(field) {
		case "from":
			z.From, bts, err = readRecipient(bts)
		case "to":
			z.To, bts, err = readRecipients(bts)
		case "reply":
			if msgp.IsNil(bts) {
				bts, err = msgp.ReadNilBytes(bts)
				z.Reply = nil
				break
			}
			var r mailer.Recipient
			r, bts, err = readRecipient(bts)
			z.Reply = &r
		case "cc":
			z.Cc, bts, err = readRecipients(bts)
		case "bcc":
			z.Bcc, bts, err = readRecipients(bts)
		case "subject":
			z.Subject, bts, err = msgp.ReadStringBytes(bts)
		case "text":
			z.Text, bts, err = msgp.ReadStringBytes(bts)
		case "html":
			z.HTML, bts, err = msgp.ReadStringBytes(bts)
		case "headers":
			bts, err = readHeaders(bts, z)
		case "attachments":
			var n uint32
			n, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				break
			}
			z.Attachments = nil
			if n > 0 {
				z.Attachments = make([]mailer.Attachment, n)
			}
			for i := range z.Attachments {
				bts, err = readAttachment(bts, &z.Attachments[i])
				if err != nil {
					return bts, msgp.WrapError(err, "Attachments", i)
				}
			}
		case "dsn_override":
			if msgp.IsNil(bts) {
				bts, err = msgp.ReadNilBytes(bts)
				z.DSNOverride = nil
				break
			}
			z.DSNOverride = new(mailer.DSNOverride)
			bts, err = readDSNOverride(bts, z.DSNOverride)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

func emailSize(z *mailer.EmailOptions) (s int) {
	s = 1 + 5 + recipientSize(z.From) + 3 + recipientsSize(z.To) + 6 + msgp.NilSize
	if z.Reply != nil {
		s += recipientSize(*z.Reply)
	}
	s += 3 + recipientsSize(z.Cc) + 4 + recipientsSize(z.Bcc) +
		8 + msgp.StringPrefixSize + len(z.Subject) +
		5 + msgp.StringPrefixSize + len(z.Text) +
		5 + msgp.StringPrefixSize + len(z.HTML) +
		8 + msgp.MapHeaderSize
	for k, v := range z.Headers {
		s += msgp.StringPrefixSize + len(k) + msgp.StringPrefixSize + len(v)
	}
	s += 12 + msgp.ArrayHeaderSize
	for i := range z.Attachments {
		a := &z.Attachments[i]
		s += 1 + 9 + msgp.StringPrefixSize + len(a.Filename) +
			8 + msgp.StringPrefixSize + len(a.Content) +
			10 + msgp.StringPrefixSize + len(a.MimeType) +
			4 + msgp.StringPrefixSize + len(a.CID) +
			7 + msgp.BoolSize
	}
	s += 13 + 1 + 12 + msgp.StringPrefixSize + 4 + retSize + 7 + notifySize
	if z.DSNOverride != nil {
		s += len(z.DSNOverride.EnvelopeID)
	}
	return
}

func readHeaders(bts []byte, z *mailer.EmailOptions) (o []byte, err error) {
	var n uint32
	n, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	z.Headers = nil
	if n > 0 {
		z.Headers = make(map[string]string, n)
	}
	for n > 0 {
		n--
		var k, v string
		k, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return bts, err
		}
		v, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return bts, msgp.WrapError(err, k)
		}
		z.Headers[k] = v
	}
	return bts, nil
}

func readDSNOverride(bts []byte, z *mailer.DSNOverride) (o []byte, err error) {
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return
		}
		switch msgp.UnsafeString(field) {
		case "envelope_id":
			z.EnvelopeID, bts, err = msgp.ReadStringBytes(bts)
		case "ret":
			z.Ret, bts, err = readRet(bts)
		case "notify":
			z.Notify, bts, err = readNotify(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

// A bare recipient is a string; a named one is an {email, name} map.
func appendRecipient(o []byte, r mailer.Recipient) []byte {
	u := r.User()
	if r.IsBare() {
		return msgp.AppendString(o, u.Email)
	}
	o = msgp.AppendMapHeader(o, 2)
	o = msgp.AppendString(o, "email")
	o = msgp.AppendString(o, u.Email)
	o = msgp.AppendString(o, "name")
	return msgp.AppendString(o, u.Name)
}

func readRecipient(bts []byte) (r mailer.Recipient, o []byte, err error) {
	if msgp.NextType(bts) == msgp.StrType {
		var s string
		s, bts, err = msgp.ReadStringBytes(bts)
		return mailer.Addr(s), bts, err
	}

	var u mailer.User
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return r, bts, err
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return r, bts, err
		}
		switch msgp.UnsafeString(field) {
		case "email":
			u.Email, bts, err = msgp.ReadStringBytes(bts)
		case "name":
			u.Name, bts, err = msgp.ReadStringBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return r, bts, err
		}
	}
	return mailer.FromUser(u), bts, nil
}

func recipientSize(r mailer.Recipient) int {
	u := r.User()
	return 1 + 6 + msgp.StringPrefixSize + len(u.Email) + 5 + msgp.StringPrefixSize + len(u.Name)
}

func appendRecipients(o []byte, rs []mailer.Recipient) []byte {
	o = msgp.AppendArrayHeader(o, uint32(len(rs)))
	for _, r := range rs {
		o = appendRecipient(o, r)
	}
	return o
}

func readRecipients(bts []byte) (rs []mailer.Recipient, o []byte, err error) {
	var n uint32
	n, bts, err = msgp.ReadArrayHeaderBytes(bts)
	if err != nil || n == 0 {
		return nil, bts, err
	}
	rs = make([]mailer.Recipient, n)
	for i := range rs {
		rs[i], bts, err = readRecipient(bts)
		if err != nil {
			return nil, bts, msgp.WrapError(err, i)
		}
	}
	return rs, bts, nil
}

func recipientsSize(rs []mailer.Recipient) (s int) {
	s = msgp.ArrayHeaderSize
	for _, r := range rs {
		s += recipientSize(r)
	}
	return
}

func appendAttachment(o []byte, a *mailer.Attachment) []byte {
	o = msgp.AppendMapHeader(o, 5)
	o = msgp.AppendString(o, "filename")
	o = msgp.AppendString(o, a.Filename)
	o = msgp.AppendString(o, "content")
	o = msgp.AppendString(o, a.Content)
	o = msgp.AppendString(o, "mime_type")
	o = msgp.AppendString(o, a.MimeType)
	o = msgp.AppendString(o, "cid")
	o = msgp.AppendString(o, a.CID)
	o = msgp.AppendString(o, "inline")
	return msgp.AppendBool(o, a.Inline)
}

func readAttachment(bts []byte, a *mailer.Attachment) (o []byte, err error) {
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return
		}
		switch msgp.UnsafeString(field) {
		case "filename":
			a.Filename, bts, err = msgp.ReadStringBytes(bts)
		case "content":
			a.Content, bts, err = msgp.ReadStringBytes(bts)
		case "mime_type":
			a.MimeType, bts, err = msgp.ReadStringBytes(bts)
		case "cid":
			a.CID, bts, err = msgp.ReadStringBytes(bts)
		case "inline":
			a.Inline, bts, err = msgp.ReadBoolBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}
