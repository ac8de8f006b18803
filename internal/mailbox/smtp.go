package mailbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rotisserie/eris"
)

const (
	DefaultDialTimeout    = 30 * time.Second
	DefaultCommandTimeout = time.Minute
)

// SMTPSender submits replies over implicit TLS with PLAIN authentication.
// Each Send opens its own connection so sends can run in parallel.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string

	// DialTimeout bounds the TCP connect and TLS handshake.
	DialTimeout time.Duration
	// CommandTimeout bounds the greeting, each command and the message upload.
	CommandTimeout time.Duration

	tlsConfig *tls.Config
}

// Send delivers one reply. Cancelling ctx closes the connection and aborts the send.
func (s *SMTPSender) Send(ctx context.Context, out *Outgoing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dialTimeout, cmdTimeout := s.DialTimeout, s.CommandTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	if cmdTimeout <= 0 {
		cmdTimeout = DefaultCommandTimeout
	}
	cfg := s.tlsConfig
	if cfg == nil {
		cfg = &tls.Config{ServerName: s.Host}
	}

	address := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: dialTimeout}, Config: cfg}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return eris.Wrapf(err, "dial smtp %s", address)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// NewClient reads the greeting without a deadline of its own.
	if err := conn.SetDeadline(time.Now().Add(cmdTimeout)); err != nil {
		conn.Close()
		return eris.Wrap(err, "set greeting deadline")
	}
	client, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return eris.Wrapf(err, "smtp greeting from %s", address)
	}
	defer client.Close()
	client.CommandTimeout = cmdTimeout
	client.SubmissionTimeout = cmdTimeout

	if err := client.Auth(sasl.NewPlainClient("", s.Username, s.Password)); err != nil {
		return eris.Wrap(err, "smtp auth")
	}
	if err := client.Mail(out.From, nil); err != nil {
		return eris.Wrap(err, "client.Mail")
	}
	for _, rcpt := range out.Recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return eris.Wrapf(err, "client.Rcpt %s", rcpt)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return eris.Wrap(err, "client.Data")
	}
	if _, err := bytes.NewReader(out.Data).WriteTo(writer); err != nil {
		writer.Close()
		return eris.Wrap(err, "write message")
	}
	if err := writer.Close(); err != nil {
		return eris.Wrap(err, "finish message")
	}
	return client.Quit()
}
