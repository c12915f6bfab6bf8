package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/models"
)

var (
	ErrConnection = errors.New("smtp connection failed")
	ErrSend       = errors.New("smtp send failed")
	// ErrInsecure is returned when the link cannot be encrypted before AUTH.
	ErrInsecure = errors.New("smtp server does not offer STARTTLS")
)

// Session is one open, authenticated SMTP connection. It has the same
// shape as gomail.SendCloser.
type Session interface {
	Send(from string, to []string, msg io.WriterTo) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, creds models.SMTPCredentials) (Session, error)
}

// SMTPDialer opens authenticated sessions. Port 465 uses implicit TLS; on
// other ports STARTTLS must succeed before AUTH is attempted.
type SMTPDialer struct {
	// Timeout bounds connect, TLS handshake and AUTH.
	Timeout time.Duration
	// SendTimeout bounds each MAIL/RCPT/DATA exchange.
	SendTimeout time.Duration
	// Retries is the number of extra connect attempts after a transient failure.
	Retries uint64
	Log     *zap.Logger

	// TLSConfig overrides the default {ServerName: host}.
	TLSConfig *tls.Config
}

func (d *SMTPDialer) Dial(ctx context.Context, creds models.SMTPCredentials) (Session, error) {

	var sess Session

	operation := func() error {
		s, err := d.dialOnce(ctx, creds)
		if err != nil {
			if permanent(err) {
				return backoff.Permanent(err)
			}
			d.Log.Warn("smtp dial attempt failed",
				zap.String("addr", creds.Addr()),
				zap.Error(err),
			)
			return err
		}
		sess = s
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, d.Retries), ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, creds.Addr(), err)
	}

	return sess, nil
}

func (d *SMTPDialer) tlsConfig(host string) *tls.Config {
	if d.TLSConfig != nil {
		return d.TLSConfig
	}
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

func (d *SMTPDialer) dialOnce(ctx context.Context, creds models.SMTPCredentials) (Session, error) {

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	nd := &net.Dialer{}
	var (
		conn net.Conn
		err  error
	)
	if creds.Port == 465 {
		td := &tls.Dialer{NetDialer: nd, Config: d.tlsConfig(creds.Host)}
		conn, err = td.DialContext(ctx, "tcp", creds.Addr())
	} else {
		conn, err = nd.DialContext(ctx, "tcp", creds.Addr())
	}
	if err != nil {
		return nil, err
	}

	// the client sets per-command deadlines itself, so the overall
	// handshake budget is enforced by closing the socket
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c := smtp.NewClient(conn)
	if d.Timeout > 0 {
		c.CommandTimeout = d.Timeout
	}

	if err := d.handshake(c, creds); err != nil {
		c.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return nil, err
	}

	if d.SendTimeout > 0 {
		c.CommandTimeout = d.SendTimeout
		c.SubmissionTimeout = d.SendTimeout
	}

	return &smtpSession{client: c}, nil
}

// handshake greets, upgrades to TLS and authenticates.
func (d *SMTPDialer) handshake(c *smtp.Client, creds models.SMTPCredentials) error {

	if err := c.Hello("localhost"); err != nil {
		return err
	}

	if _, isTLS := c.TLSConnectionState(); !isTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return ErrInsecure
		}
		if err := c.StartTLS(d.tlsConfig(creds.Host)); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if !c.SupportsAuth(sasl.Plain) {
		return errors.New("server does not support AUTH PLAIN")
	}

	if err := c.Auth(sasl.NewPlainClient("", creds.Email, creds.AppPassword)); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	return nil
}

type smtpSession struct {
	client *smtp.Client
}

// Send runs one MAIL/RCPT/DATA transaction. On failure the transaction is
// reset so the session stays usable for the next recipient.
func (s *smtpSession) Send(from string, to []string, msg io.WriterTo) error {

	if err := s.transaction(from, to, msg); err != nil {
		s.client.Reset()
		return err
	}
	return nil
}

func (s *smtpSession) transaction(from string, to []string, msg io.WriterTo) error {
	if err := s.client.Mail(from, nil); err != nil {
		return err
	}
	for _, addr := range to {
		if err := s.client.Rcpt(addr, nil); err != nil {
			return err
		}
	}

	w, err := s.client.Data()
	if err != nil {
		return err
	}
	if _, err := msg.WriteTo(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (s *smtpSession) Close() error {
	if err := s.client.Quit(); err != nil {
		s.client.Close()
		return err
	}
	return nil
}

// permanent reports SMTP 5xx replies (bad credentials, policy rejections)
// and servers that cannot encrypt the link. Retrying won't fix either.
func permanent(err error) bool {
	if errors.Is(err, ErrInsecure) {
		return true
	}
	var smtpErr *smtp.SMTPError
	return errors.As(err, &smtpErr) && smtpErr.Code >= 500
}
