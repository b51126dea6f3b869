// Package acceptor implements the proxy's listener (C4): it accepts TCP
// connections, optionally parses a PROXY protocol v2 preamble, terminates
// TLS, frames the resulting stream, and spawns one goroutine per connection
// running the session state machine. Shutdown is a single broadcast close
// of a done channel; in-flight sessions are left to end on their own when
// their peer disconnects, exactly as the spec's acceptor design calls for.
package acceptor

import (
	"context"
	"crypto/tls"
	"net"
	"sync"

	"github.com/pires/go-proxyproto"
	"github.com/rs/zerolog"

	"github.com/kanidm/ldap-proxy/internal/appstate"
	"github.com/kanidm/ldap-proxy/internal/config"
	"github.com/kanidm/ldap-proxy/internal/ldapwire"
	"github.com/kanidm/ldap-proxy/internal/session"
)

// Acceptor owns the listening socket and the goroutine fan-out into
// sessions.
type Acceptor struct {
	app       *appstate.AppState
	serverTLS *tls.Config
	log       zerolog.Logger

	wg sync.WaitGroup
}

// New builds an Acceptor. serverTLS is the client-facing TLS configuration
// (the proxy's own certificate chain and key), separate from app.UpstreamTLS
// which is used only when dialing the upstream directory.
func New(app *appstate.AppState, serverTLS *tls.Config, log zerolog.Logger) *Acceptor {
	return &Acceptor{app: app, serverTLS: serverTLS, log: log}
}

// Serve accepts connections on bindAddr until ctx is cancelled. It returns
// once the listener has been closed and every spawned session goroutine has
// returned.
func (a *Acceptor) Serve(ctx context.Context, bindAddr string) error {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return err
	}

	if a.app.RemoteIPAddrInfo == config.AddrInfoProxyV2 {
		ln = &proxyproto.Listener{Listener: ln}
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				a.wg.Wait()
				return nil
			default:
				a.log.Warn().Err(err).Msg("accept failed")
				a.wg.Wait()
				return err
			}
		}

		a.wg.Add(1)
		go a.handle(ctx, conn)
	}
}

func (a *Acceptor) handle(ctx context.Context, conn net.Conn) {
	defer a.wg.Done()
	defer conn.Close()

	if ppConn, ok := conn.(*proxyproto.Conn); ok {
		header := ppConn.ProxyHeader()
		if header != nil && header.Command.IsLocal() {
			// Local health-check probe: close silently, no session spawned.
			return
		}
	}

	tlsConn := tls.Server(conn, a.serverTLS)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		a.log.Debug().Err(err).Msg("client TLS handshake failed")
		return
	}

	r := ldapwire.NewReader(tlsConn, a.app.MaxIncomingBerSize)
	w := ldapwire.NewWriter(tlsConn)

	addr := conn.RemoteAddr().String()
	sessionLog := a.log.With().Str("remote_addr", addr).Logger()

	s := session.New(a.app, r, w, sessionLog)
	if err := s.Run(ctx); err != nil {
		sessionLog.Debug().Err(err).Msg("session ended with error")
	}
}
