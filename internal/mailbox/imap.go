package mailbox

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// IMAPFetcher reads inquiry messages from an IMAP mailbox over TLS.
// Messages are fetched with BODY.PEEK so their \Seen flag is left alone.
type IMAPFetcher struct {
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string
	// SubjectKeyword narrows the server-side search; empty matches every subject
	SubjectKeyword string
	Logger         *zap.Logger
}

// Fetch returns every message in the mailbox received on or after since.
func (f *IMAPFetcher) Fetch(ctx context.Context, since time.Time) ([]Raw, error) {
	log := f.Logger
	if log == nil {
		log = zap.NewNop()
	}

	address := net.JoinHostPort(f.Host, strconv.Itoa(f.Port))
	client, err := imapclient.DialTLS(address, &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: f.Host},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dial imap %s", address)
	}
	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	defer func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				log.Debug("imap logout failed", zap.Error(err))
			}
		}
		_ = client.Close()
	}()

	if err := client.Login(f.Username, f.Password).Wait(); err != nil {
		return nil, eris.Wrap(err, "imap login failed")
	}

	mailbox := f.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := client.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, eris.Wrapf(err, "select %s", mailbox)
	}

	criteria := &imap.SearchCriteria{Since: since}
	if f.SubjectKeyword != "" {
		criteria.Header = []imap.SearchCriteriaHeaderField{{Key: "Subject", Value: f.SubjectKeyword}}
	}
	data, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, eris.Wrap(err, "imap search")
	}
	uids := data.AllUIDs()
	log.Debug("imap search done", zap.String("mailbox", mailbox), zap.Int("matches", len(uids)))
	if len(uids) == 0 {
		return nil, nil
	}

	section := &imap.FetchItemBodySection{Peek: true}
	msgs, err := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, eris.Wrap(err, "imap fetch")
	}

	out := make([]Raw, 0, len(msgs))
	for _, msg := range msgs {
		body := msg.FindBodySection(section)
		if body == nil {
			log.Warn("server returned no body", zap.Uint32("uid", uint32(msg.UID)))
			continue
		}
		out = append(out, Raw{ID: strconv.FormatUint(uint64(msg.UID), 10), Data: body})
	}
	return out, nil
}
