// Package session implements the per-connection LDAP protocol state
// machine (C3): it reads framed LDAPMessages from one client, drives the
// Unbound -> Authenticated transition on successful Bind, enforces the
// bound identity's search policy, and serves Search requests from the
// shared cache before falling back to the upstream directory. Control flow
// mirrors original_source/src/proxy.rs's client_process match-on-(state,
// op) loop, expressed here as a type switch over ldapwire.Op plus an
// explicit *authState field standing in for Go's lack of an owned enum.
package session

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/kanidm/ldap-proxy/internal/appstate"
	"github.com/kanidm/ldap-proxy/internal/audit"
	"github.com/kanidm/ldap-proxy/internal/cache"
	"github.com/kanidm/ldap-proxy/internal/config"
	"github.com/kanidm/ldap-proxy/internal/ldapwire"
	"github.com/kanidm/ldap-proxy/internal/upstream"
)

// UpstreamClient is the subset of *upstream.Client the session depends on.
// Declaring it lets tests substitute a fake that never touches the network,
// mirroring the teacher's internal/check "var newClient = ldapclient.New"
// indirection-point pattern.
type UpstreamClient interface {
	Bind(req ldapwire.BindRequest, controls []ldapwire.Control) (ldapwire.BindResponse, []ldapwire.Control, error)
	Search(req ldapwire.SearchRequest, controls []ldapwire.Control) ([]upstream.SearchEntry, ldapwire.SearchResultDone, []ldapwire.Control, error)
	Close() error
}

// dialUpstream is the production seam pointed at upstream.Dial; tests
// reassign it.
var dialUpstream = func(ctx context.Context, app *appstate.AppState, log zerolog.Logger) (UpstreamClient, error) {
	return upstream.Dial(ctx, app.UpstreamAddrs, app.UpstreamTLS, app.MaxProxyBerSize, log)
}

// authState holds the Authenticated-state fields. A nil *authState on
// Session means Unbound. A successful bind replaces the pointer wholesale,
// which is what makes the previous upstream client unreachable; handleBind
// explicitly closes it before the replacement so nothing is ever leaked.
type authState struct {
	dn     string
	config config.DnConfig
	client UpstreamClient
}

// Session drives one client connection from Unbound to termination.
type Session struct {
	app *appstate.AppState
	r   *ldapwire.Reader
	w   *ldapwire.Writer
	log zerolog.Logger

	auth *authState
}

// New builds a Session over an already TLS-terminated, framed connection.
func New(app *appstate.AppState, r *ldapwire.Reader, w *ldapwire.Writer, log zerolog.Logger) *Session {
	return &Session{app: app, r: r, w: w, log: log}
}

// Run reads and dispatches messages until termination: unbind, an
// unrecognized op, a write failure, a framed-read error or EOF, an upstream
// error during bind or search, or a policy-denied search all end the loop.
// The session's owned upstream client, if any, is always closed on the way
// out.
func (s *Session) Run(ctx context.Context) error {
	defer s.closeUpstream()

	for {
		msg, err := s.r.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		terminate, err := s.dispatch(ctx, msg)
		if err != nil {
			return err
		}
		if terminate {
			return nil
		}
	}
}

func (s *Session) closeUpstream() {
	if s.auth != nil && s.auth.client != nil {
		s.auth.client.Close()
	}
}

func (s *Session) dispatch(ctx context.Context, msg ldapwire.Message) (terminate bool, err error) {
	switch op := msg.Op.(type) {
	case ldapwire.BindRequest:
		return s.handleBind(ctx, msg.MsgID, op, msg.Controls)
	case ldapwire.UnbindRequest:
		return true, nil
	case ldapwire.SearchRequest:
		if s.auth == nil {
			return true, nil
		}
		return s.handleSearch(msg.MsgID, op, msg.Controls)
	case ldapwire.ExtendedRequest:
		if s.auth == nil {
			return true, nil
		}
		return s.handleExtended(msg.MsgID, op)
	default:
		return true, nil
	}
}

func (s *Session) handleBind(ctx context.Context, msgID int64, req ldapwire.BindRequest, reqControls []ldapwire.Control) (bool, error) {
	s.app.Metrics.IncBindAttempt()

	dnConfig, ok := s.app.DnConfigFor(req.DN)
	if !ok {
		s.app.Metrics.IncBindFail()
		s.app.Audit.Log(audit.Record{Timestamp: time.Now(), Operation: "bind", DN: req.DN, Reason: "unknown bind dn"})
		return false, s.writeBindError(msgID)
	}

	client, err := dialUpstream(ctx, s.app, s.log)
	if err != nil {
		s.log.Warn().Err(err).Str("dn", req.DN).Msg("unable to reach upstream for bind")
		s.app.Metrics.IncBindFail()
		return true, s.writeBindError(msgID)
	}

	resp, controls, err := client.Bind(req, reqControls)
	if err != nil {
		client.Close()
		s.log.Warn().Err(err).Str("dn", req.DN).Msg("upstream bind failed")
		s.app.Metrics.IncBindFail()
		return true, s.writeBindError(msgID)
	}

	if err := s.w.WriteMessage(ldapwire.Message{MsgID: msgID, Op: resp, Controls: controls}); err != nil {
		client.Close()
		return true, err
	}

	if resp.Result.Code != ldapwire.ResultSuccess {
		client.Close()
		s.app.Metrics.IncBindFail()
		return false, nil
	}

	s.app.Metrics.IncBindSuccess()
	s.closeUpstream()
	s.auth = &authState{dn: req.DN, config: dnConfig, client: client}

	return false, nil
}

func (s *Session) writeBindError(msgID int64) error {
	return s.w.WriteMessage(ldapwire.Message{
		MsgID: msgID,
		Op: ldapwire.BindResponse{
			Result: ldapwire.Result{Code: ldapwire.ResultOperationsError, Message: "unable to bind"},
		},
	})
}

func (s *Session) handleSearch(msgID int64, req ldapwire.SearchRequest, controls []ldapwire.Control) (bool, error) {
	s.app.Metrics.IncSearchAttempt()

	if !queryAllowed(s.auth.config, req) {
		s.app.Metrics.IncSearchDenied()
		filter := ""
		if req.Filter != nil {
			filter = req.Filter.String()
		}
		s.app.Audit.Log(audit.Record{
			Timestamp: time.Now(), Operation: "search", DN: s.auth.dn,
			Base: req.BaseDN, Filter: filter, Reason: "not in allow-list",
		})
		err := s.w.WriteMessage(ldapwire.Message{
			MsgID: msgID,
			Op:    ldapwire.SearchResultDone{Result: ldapwire.Result{Code: ldapwire.ResultSuccess}},
		})
		return true, err
	}

	key := cache.NewKey(s.auth.dn, req, controls)
	now := time.Now()
	txn := s.app.Cache.Txn()

	var (
		entries  []cache.Entry
		result   ldapwire.SearchResultDone
		replyCtl []ldapwire.Control
		missed   bool
	)

	if val, hit := txn.Get(key); hit && val.Valid(now) {
		s.app.Metrics.IncCacheHit()
		entries, result, replyCtl = val.Entries, val.Result, val.Controls
	} else {
		s.app.Metrics.IncCacheMiss()
		missed = true

		upstreamEntries, doneResult, doneControls, err := s.auth.client.Search(req, controls)
		if err != nil {
			s.log.Warn().Err(err).Str("dn", s.auth.dn).Msg("upstream search failed")
			return true, s.writeSearchError(msgID)
		}

		entries = make([]cache.Entry, len(upstreamEntries))
		for i, e := range upstreamEntries {
			entries[i] = cache.Entry{SearchEntry: e.Entry, Controls: e.Controls}
		}
		result, replyCtl = doneResult, doneControls
	}

	if missed {
		value := &cache.Value{
			ValidUntil: now.Add(s.app.CacheEntryTimeout),
			Entries:    entries,
			Result:     result,
			Controls:   replyCtl,
		}
		txn.InsertSized(key, value, cache.Weight(value))
	}

	for _, e := range entries {
		if err := s.w.WriteMessage(ldapwire.Message{MsgID: msgID, Op: e.SearchEntry, Controls: e.Controls}); err != nil {
			return true, err
		}
	}

	if err := s.w.WriteMessage(ldapwire.Message{MsgID: msgID, Op: result, Controls: replyCtl}); err != nil {
		return true, err
	}

	s.app.Cache.TryQuiesce()

	return false, nil
}

func (s *Session) writeSearchError(msgID int64) error {
	return s.w.WriteMessage(ldapwire.Message{
		MsgID: msgID,
		Op: ldapwire.SearchResultDone{
			Result: ldapwire.Result{Code: ldapwire.ResultOperationsError, Message: "unable to search"},
		},
	})
}

func (s *Session) handleExtended(msgID int64, req ldapwire.ExtendedRequest) (bool, error) {
	if req.Name != ldapwire.WhoAmIOID {
		err := s.w.WriteMessage(ldapwire.Message{
			MsgID: msgID,
			Op:    ldapwire.ExtendedResponse{Result: ldapwire.Result{Code: ldapwire.ResultOperationsError}},
		})
		return false, err
	}

	err := s.w.WriteMessage(ldapwire.Message{
		MsgID: msgID,
		Op: ldapwire.ExtendedResponse{
			Result:   ldapwire.Result{Code: ldapwire.ResultSuccess},
			Value:    []byte(s.auth.dn),
			HasValue: true,
		},
	})
	return false, err
}
