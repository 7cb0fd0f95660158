package transport

import (
	"crypto/tls"
	"net"

	"golang.org/x/crypto/acme/autocert"
)

// TLS wraps a *tls.Conn as a conn.Transport / reactor.FdTransport. The
// handshake is allowed to proceed lazily: the first Recv/Send drives it via
// tls.Conn's own internal retry, same as the teacher's tls package assumed
// of net/http before it grew LetsEncrypt automation.
type TLS struct {
	conn *tls.Conn
	fd   int
}

// NewTLS performs (or schedules, since crypto/tls handshakes lazily on
// first I/O) a server-side TLS handshake over raw, reusing raw's
// underlying fd for reactor registration.
func NewTLS(raw net.Conn, cfg *tls.Config) (*TLS, error) {
	tcp, ok := raw.(*net.TCPConn)
	if !ok {
		return nil, errNotTCP
	}
	rawConn, err := tcp.SyscallConn()
	if err != nil {
		return nil, err
	}
	var fd int
	if ctrlErr := rawConn.Control(func(f uintptr) { fd = int(f) }); ctrlErr != nil {
		return nil, ctrlErr
	}
	return &TLS{conn: tls.Server(raw, cfg), fd: fd}, nil
}

func (t *TLS) Recv(dst []byte) (int, error) { return t.conn.Read(dst) }
func (t *TLS) Send(src []byte) (int, error) { return t.conn.Write(src) }
func (t *TLS) Close() error                 { return t.conn.Close() }
func (t *TLS) Fd() int                      { return t.fd }

// AutocertConfig builds a *tls.Config that fetches certificates on demand
// from Let's Encrypt via ACME, caching them under cacheDir — the
// ecosystem replacement for the teacher's hand-rolled ACMEClient/
// CertificateManager in tls/acme.go and tls/cert.go.
func AutocertConfig(cacheDir string, hostPolicy autocert.HostPolicy) *tls.Config {
	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: hostPolicy,
		Cache:      autocert.DirCache(cacheDir),
	}
	return m.TLSConfig()
}
