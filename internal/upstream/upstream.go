// Package upstream implements the proxy's client connection to the real
// LDAPS directory: one TLS connection per authenticated session, a
// monotonic message-id counter, and request/response correlation for the
// two operations the proxy forwards, Bind and Search. It deliberately does
// not pipeline: each call transmits one request and waits for its full,
// correlated response before returning, mirroring kanidm's BasicLdapClient.
package upstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/kanidm/ldap-proxy/internal/ldapwire"
)

// connectTimeout bounds a single candidate-address TCP connect attempt.
const connectTimeout = 5 * time.Second

// Error is the small taxonomy of failures the upstream client can produce.
// None of these are ever surfaced verbatim to the LDAP client; the session
// layer maps all of them to a generic OperationsError.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("upstream: %s: %v", e.Kind, e.err)
	}
	return fmt.Sprintf("upstream: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.err }

// Kind enumerates the upstream error taxonomy from the proxy spec: TLS
// failure, connect failure, transport failure, and protocol-state
// violations (wrong op or mismatched msgid in a response).
type Kind string

const (
	KindTLS                  Kind = "tls_error"
	KindConnect              Kind = "connect_error"
	KindTransport            Kind = "transport"
	KindInvalidProtocolState Kind = "invalid_protocol_state"
)

func newErr(kind Kind, err error) *Error { return &Error{Kind: kind, err: err} }

// Client is one authenticated session's exclusive connection to the
// upstream directory.
type Client struct {
	conn net.Conn
	r    *ldapwire.Reader
	w    *ldapwire.Writer

	msgCounter int64
	log        zerolog.Logger
}

// Dial races a TCP connect against connectTimeout for each candidate
// address in order, falling through to the next on timeout or failure,
// then performs a TLS handshake against the first address that accepts.
// maxFrameSize caps frames read from the upstream (0 disables the cap).
func Dial(ctx context.Context, addrs []string, tlsConfig *tls.Config, maxFrameSize int, log zerolog.Logger) (*Client, error) {
	if len(addrs) == 0 {
		return nil, newErr(KindConnect, errors.New("no candidate addresses"))
	}

	var conn net.Conn
	var lastErr error

	for _, addr := range addrs {
		dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		d := net.Dialer{}
		c, err := d.DialContext(dialCtx, "tcp", addr)
		cancel()

		if err != nil {
			log.Debug().Str("addr", addr).Err(err).Msg("upstream connect attempt failed")
			lastErr = err
			continue
		}

		conn = c
		break
	}

	if conn == nil {
		return nil, newErr(KindConnect, lastErr)
	}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, newErr(KindTLS, err)
	}

	return newClient(tlsConn, maxFrameSize, log), nil
}

// newClient wraps an already-established connection. It exists as a seam
// for tests, which exercise the msgid-correlation logic over a net.Pipe
// instead of a real TLS handshake.
func newClient(conn net.Conn, maxFrameSize int, log zerolog.Logger) *Client {
	return &Client{
		conn: conn,
		r:    ldapwire.NewReader(conn, maxFrameSize),
		w:    ldapwire.NewWriter(conn),
		log:  log,
	}
}

// Close tears down the underlying TLS/TCP connection. Dropping a Client
// cancels any in-flight receive on it, matching the spec's
// cancel-by-connection-closure model.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) nextMsgID() int64 {
	c.msgCounter++
	return c.msgCounter
}

// Bind forwards a BindRequest and returns the correlated BindResponse.
func (c *Client) Bind(req ldapwire.BindRequest, controls []ldapwire.Control) (ldapwire.BindResponse, []ldapwire.Control, error) {
	msgID := c.nextMsgID()

	if err := c.w.WriteMessage(ldapwire.Message{MsgID: msgID, Op: req, Controls: controls}); err != nil {
		return ldapwire.BindResponse{}, nil, newErr(KindTransport, err)
	}

	msg, err := c.r.ReadMessage()
	if err != nil {
		return ldapwire.BindResponse{}, nil, newErr(KindTransport, err)
	}

	if msg.MsgID != msgID {
		return ldapwire.BindResponse{}, nil, newErr(KindInvalidProtocolState, fmt.Errorf("msgid %d != %d", msg.MsgID, msgID))
	}

	resp, ok := msg.Op.(ldapwire.BindResponse)
	if !ok {
		return ldapwire.BindResponse{}, nil, newErr(KindInvalidProtocolState, fmt.Errorf("unexpected op %T", msg.Op))
	}

	return resp, msg.Controls, nil
}

// SearchEntry pairs one entry with the controls it carried.
type SearchEntry struct {
	Entry    ldapwire.SearchResultEntry
	Controls []ldapwire.Control
}

// Search forwards a SearchRequest and reads frames until the correlated
// SearchResultDone, in upstream order. The returned entries slice is in
// exactly the order they were received, and SearchResultDone is always
// last.
func (c *Client) Search(req ldapwire.SearchRequest, controls []ldapwire.Control) ([]SearchEntry, ldapwire.SearchResultDone, []ldapwire.Control, error) {
	msgID := c.nextMsgID()

	if err := c.w.WriteMessage(ldapwire.Message{MsgID: msgID, Op: req, Controls: controls}); err != nil {
		return nil, ldapwire.SearchResultDone{}, nil, newErr(KindTransport, err)
	}

	var entries []SearchEntry

	for {
		msg, err := c.r.ReadMessage()
		if err != nil {
			return nil, ldapwire.SearchResultDone{}, nil, newErr(KindTransport, err)
		}

		if msg.MsgID != msgID {
			return nil, ldapwire.SearchResultDone{}, nil, newErr(KindInvalidProtocolState, fmt.Errorf("msgid %d != %d", msg.MsgID, msgID))
		}

		switch op := msg.Op.(type) {
		case ldapwire.SearchResultEntry:
			entries = append(entries, SearchEntry{Entry: op, Controls: msg.Controls})
		case ldapwire.SearchResultDone:
			return entries, op, msg.Controls, nil
		default:
			return nil, ldapwire.SearchResultDone{}, nil, newErr(KindInvalidProtocolState, fmt.Errorf("unexpected op %T", msg.Op))
		}
	}
}
