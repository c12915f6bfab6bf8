// Package smtptest runs an in-process go-smtp server for tests, in the
// spirit of net/http/httptest. It listens on 127.0.0.1, offers STARTTLS
// with a throwaway certificate and accepts AUTH PLAIN.
package smtptest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Message is one accepted DATA payload.
type Message struct {
	From string
	To   []string
	Data []byte
}

type Server struct {
	Host string
	Port int

	srv      *smtp.Server
	ln       net.Listener
	roots    *x509.CertPool
	noTLS    bool
	user     string
	password string
	reject   map[string]bool

	mu       sync.Mutex
	messages []Message
	sessions int
	wg       sync.WaitGroup
}

type Option func(*Server)

// WithAuth requires AUTH PLAIN with exactly these credentials.
func WithAuth(user, password string) Option {
	return func(s *Server) {
		s.user = user
		s.password = password
	}
}

// WithRejectedRecipients makes RCPT TO fail with 550 for the given addresses.
func WithRejectedRecipients(addrs ...string) Option {
	return func(s *Server) {
		for _, a := range addrs {
			s.reject[strings.ToLower(a)] = true
		}
	}
}

// WithoutTLS withholds STARTTLS while still advertising AUTH, like a
// misconfigured relay.
func WithoutTLS() Option {
	return func(s *Server) { s.noTLS = true }
}

// NewServer starts a server on a random local port.
func NewServer(opts ...Option) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{
		Host:   "127.0.0.1",
		Port:   ln.Addr().(*net.TCPAddr).Port,
		ln:     ln,
		reject: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	srv := smtp.NewServer(&backend{s: s})
	srv.Domain = "localhost"
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.AllowInsecureAuth = true
	if !s.noTLS {
		cert, roots, err := selfSigned(s.Host)
		if err != nil {
			ln.Close()
			return nil, err
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		s.roots = roots
	}
	s.srv = srv

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		srv.Serve(ln)
	}()

	return s, nil
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ClientTLSConfig trusts the server's certificate. It is nil for servers
// started WithoutTLS.
func (s *Server) ClientTLSConfig() *tls.Config {
	if s.roots == nil {
		return nil
	}
	return &tls.Config{RootCAs: s.roots, ServerName: s.Host, MinVersion: tls.VersionTLS12}
}

// Messages returns the accepted messages in arrival order.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Sessions is the number of connections that authenticated successfully.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// Close stops accepting, drops open connections and waits for the listener.
func (s *Server) Close() error {
	err := s.srv.Close()
	s.wg.Wait()
	return err
}

// ---------------------------------------------------------------------------
// Backend
// ---------------------------------------------------------------------------

var errAuthRequired = &smtp.SMTPError{
	Code:         530,
	EnhancedCode: smtp.EnhancedCode{5, 7, 0},
	Message:      "Authentication required",
}

type backend struct {
	s *Server
}

func (b *backend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &session{s: b.s}, nil
}

type session struct {
	s      *Server
	authed bool
	from   string
	to     []string
}

func (ss *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (ss *session) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if ss.s.user != "" && (username != ss.s.user || password != ss.s.password) {
			return &smtp.SMTPError{
				Code:         535,
				EnhancedCode: smtp.EnhancedCode{5, 7, 8},
				Message:      "Username and Password not accepted",
			}
		}
		ss.authed = true
		ss.s.mu.Lock()
		ss.s.sessions++
		ss.s.mu.Unlock()
		return nil
	}), nil
}

func (ss *session) Mail(from string, _ *smtp.MailOptions) error {
	if !ss.authed {
		return errAuthRequired
	}
	ss.from = from
	return nil
}

func (ss *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if ss.s.reject[strings.ToLower(to)] {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "mailbox unavailable",
		}
	}
	ss.to = append(ss.to, to)
	return nil
}

func (ss *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	ss.s.mu.Lock()
	ss.s.messages = append(ss.s.messages, Message{
		From: ss.from,
		To:   append([]string(nil), ss.to...),
		Data: data,
	})
	ss.s.mu.Unlock()
	return nil
}

func (ss *session) Reset() {
	ss.from = ""
	ss.to = nil
}

func (ss *session) Logout() error {
	return nil
}

// selfSigned issues a short-lived certificate for host and a pool that
// trusts it.
func selfSigned(host string) (tls.Certificate, *x509.CertPool, error) {

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, nil, err
	}

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: "smtptest"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP(host)},
		DNSNames:              []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, nil, err
	}

	roots := x509.NewCertPool()
	roots.AddCert(leaf)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, roots, nil
}
