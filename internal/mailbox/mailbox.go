// Package mailbox fetches inquiry mail and sends quote replies.
package mailbox

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/rotisserie/eris"

	"github.com/hpungsan/quotedesk/internal/record"
)

// ErrNoDate is returned by Parse when the Date header is missing or malformed.
// The partially parsed message is still returned so the caller can report it.
var ErrNoDate = errors.New("message has no parseable Date header")

// Raw is an undecoded RFC 822 message as delivered by a fetcher.
type Raw struct {
	// ID is the transport-specific identifier (IMAP UID, mbox index)
	ID   string
	Data []byte
}

// Outgoing is a reply ready for SMTP submission.
type Outgoing struct {
	Fingerprint string
	From        string
	Recipients  []string
	Data        []byte
}

// Parse decodes raw into an inbound message. Category and Fields are left
// for the caller to fill.
func Parse(raw Raw) (*record.Inbound, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw.Data))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, eris.Wrapf(err, "parse message %s", raw.ID)
	}
	defer mr.Close()

	h := mr.Header
	msg := &record.Inbound{TransportID: raw.ID, Raw: raw.Data}

	if subject, err := h.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = h.Get("Subject")
	}
	msg.MessageID, _ = h.MessageID()

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.FromName = from[0].Name
		msg.FromAddr = from[0].Address
	}
	msg.To = addressList(h, "To")
	msg.Cc = addressList(h, "Cc")

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return msg, eris.Wrapf(err, "read parts of %s", raw.ID)
		}
		ih, ok := p.Header.(*mail.InlineHeader)
		if !ok || msg.HTML != "" {
			continue
		}
		if ct, _, _ := ih.ContentType(); ct == "text/html" {
			body, err := io.ReadAll(p.Body)
			if err != nil {
				return msg, eris.Wrapf(err, "read html body of %s", raw.ID)
			}
			msg.HTML = string(body)
		}
	}

	sent, err := h.Date()
	if err != nil || sent.IsZero() {
		return msg, ErrNoDate
	}
	msg.SentAt = sent
	return msg, nil
}

func addressList(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out
}

// ReplyOptions controls header construction for BuildReply.
type ReplyOptions struct {
	From string
	// RedirectTo replaces the sender as the only recipient when set.
	RedirectTo   string
	OwnAddresses []string
	Now          time.Time
}

// BuildReply composes a threaded HTML reply to orig with the original message
// attached as message/rfc822.
func BuildReply(orig *record.Inbound, htmlBody string, opts ReplyOptions) (*Outgoing, error) {
	var h mail.Header
	h.SetDate(opts.Now)
	h.SetSubject(replySubject(orig.Subject))
	h.SetAddressList("From", []*mail.Address{{Address: opts.From}})
	if err := h.GenerateMessageIDWithHostname(messageIDHost(opts.From)); err != nil {
		return nil, eris.Wrap(err, "generate message id")
	}
	if orig.MessageID != "" {
		h.SetMsgIDList("In-Reply-To", []string{orig.MessageID})
		h.SetMsgIDList("References", []string{orig.MessageID})
	}

	var to *mail.Address
	var cc []*mail.Address
	if opts.RedirectTo != "" {
		to = &mail.Address{Address: opts.RedirectTo}
	} else {
		to = &mail.Address{Name: orig.FromName, Address: orig.FromAddr}
		for _, addr := range ccList(orig, opts.OwnAddresses) {
			cc = append(cc, &mail.Address{Address: addr})
		}
	}
	h.SetAddressList("To", []*mail.Address{to})
	h.SetAddressList("Cc", cc)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, eris.Wrap(err, "create reply writer")
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, eris.Wrap(err, "create inline part")
	}
	var ph mail.InlineHeader
	ph.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	pw, err := iw.CreatePart(ph)
	if err != nil {
		return nil, eris.Wrap(err, "create html part")
	}
	if _, err := io.WriteString(pw, htmlBody); err != nil {
		return nil, eris.Wrap(err, "write html part")
	}
	pw.Close()
	iw.Close()

	if len(orig.Raw) > 0 {
		var ah mail.AttachmentHeader
		ah.SetContentType("message/rfc822", nil)
		ah.Set("Content-Transfer-Encoding", "8bit")
		ah.SetFilename("original.eml")
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, eris.Wrap(err, "create attachment")
		}
		if _, err := aw.Write(orig.Raw); err != nil {
			return nil, eris.Wrap(err, "write attachment")
		}
		aw.Close()
	}

	if err := mw.Close(); err != nil {
		return nil, eris.Wrap(err, "close reply writer")
	}

	recipients := []string{to.Address}
	for _, a := range cc {
		recipients = append(recipients, a.Address)
	}
	return &Outgoing{
		Fingerprint: orig.Fingerprint(),
		From:        opts.From,
		Recipients:  recipients,
		Data:        buf.Bytes(),
	}, nil
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}

func messageIDHost(from string) string {
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		return from[i+1:]
	}
	return "quotedesk.local"
}

// ccList returns the original To and Cc addresses, minus the sender and our own addresses.
func ccList(orig *record.Inbound, own []string) []string {
	skip := map[string]bool{record.Normalize(orig.FromAddr): true}
	for _, a := range own {
		skip[record.Normalize(a)] = true
	}

	var out []string
	for _, a := range append(append([]string{}, orig.To...), orig.Cc...) {
		key := record.Normalize(a)
		if key == "" || skip[key] {
			continue
		}
		skip[key] = true
		out = append(out, a)
	}
	return out
}
