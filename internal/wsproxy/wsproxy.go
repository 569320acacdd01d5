// Package wsproxy bridges GUI WebSocket connections to the Juju API
// server, observing the login conversation and answering deployment
// requests locally.
package wsproxy

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Tiger66639/juju-gui-charm/internal/auth"
	"github.com/Tiger66639/juju-gui-charm/internal/bundles"
)

const dialTimeout = 30 * time.Second

// The GUI is served from the same origin in production, but the proxy is
// also reached directly during development.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Proxy handles GUI WebSocket connections. One Proxy serves all
// connections; per-connection state lives in the session.
type Proxy struct {
	JujuURL    string
	Insecure   bool
	APIVersion string
	Deployer   *bundles.Deployer
	Tokens     *auth.TokenManager
	Logger     zerolog.Logger
}

// Handler upgrades the request and serves the proxy session until either
// side disconnects.
func (p *Proxy) Handler(c echo.Context) error {
	client, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	p.serve(c.Request().Context(), client)
	return nil
}

func (p *Proxy) serve(ctx context.Context, client *websocket.Conn) {
	defer client.Close()

	codec, err := auth.CodecFor(p.APIVersion)
	if err != nil {
		p.Logger.Error().Err(err).Msg("cannot serve connection")
		return
	}
	user := &auth.User{}
	s := &session{
		proxy:      p,
		client:     client,
		user:       user,
		middleware: auth.NewMiddleware(user, codec, nil),
		views:      bundles.NewViews(p.Deployer, user, p.Logger),
		logger:     p.Logger,
	}
	s.run(ctx)
}

type dialResult struct {
	conn *websocket.Conn
	err  error
}

// session is the state of one proxied connection.
type session struct {
	proxy      *Proxy
	client     *websocket.Conn
	user       *auth.User
	middleware *auth.Middleware
	views      *bundles.Views
	logger     zerolog.Logger

	// writeMu serializes writes to the client: deployment responses
	// arrive from goroutines running blocking watcher calls.
	writeMu sync.Mutex
}

func (s *session) run(ctx context.Context) {
	clientMsgs := readMessages(s.client)

	dialed := make(chan dialResult, 1)
	go func() {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		dialer := websocket.Dialer{}
		if s.proxy.Insecure {
			dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		conn, _, err := dialer.DialContext(dialCtx, s.proxy.JujuURL, nil)
		dialed <- dialResult{conn: conn, err: err}
	}()

	var juju *websocket.Conn
	var jujuMsgs chan []byte
	// Messages sent before the API connection is established are queued
	// and flushed on connect.
	var pending [][]byte

	defer func() {
		if juju != nil {
			juju.Close()
		}
	}()

	for {
		select {
		case res := <-dialed:
			if res.err != nil {
				s.logger.Error().Err(res.err).Str("url", s.proxy.JujuURL).Msg("cannot connect to the API server")
				return
			}
			juju = res.conn
			jujuMsgs = readMessages(juju)
			for _, data := range pending {
				if err := juju.WriteMessage(websocket.TextMessage, data); err != nil {
					s.logger.Error().Err(err).Msg("flush queued message")
					return
				}
			}
			pending = nil

		case data, ok := <-clientMsgs:
			if !ok {
				return
			}
			forward, err := s.handleClientMessage(ctx, data)
			if err != nil {
				s.logger.Error().Err(err).Msg("handle client message")
				continue
			}
			if !forward {
				continue
			}
			if juju == nil {
				pending = append(pending, data)
				continue
			}
			if err := juju.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Error().Err(err).Msg("forward to the API server")
				return
			}

		case data, ok := <-jujuMsgs:
			if !ok {
				return
			}
			s.handleAPIMessage(data)
			if err := s.send(data); err != nil {
				s.logger.Error().Err(err).Msg("forward to the client")
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// handleClientMessage inspects one client frame and reports whether it
// must be forwarded to the API server.
func (s *session) handleClientMessage(ctx context.Context, data []byte) (forward bool, err error) {
	var msg auth.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		// Not a JSON object; let the API server deal with it.
		return true, nil
	}
	if bundles.Handles(msg) {
		s.views.Dispatch(ctx, data, func(resp []byte) {
			if err := s.send(resp); err != nil {
				s.logger.Error().Err(err).Msg("send deployment response")
			}
		})
		return false, nil
	}
	if isTokenRequest(msg) {
		s.handleTokenRequest(msg)
		return false, nil
	}
	if err := s.middleware.ProcessRequest(msg); err != nil {
		s.replyError(msg, err.Error())
		return false, nil
	}
	return true, nil
}

func (s *session) handleAPIMessage(data []byte) {
	var msg auth.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if _, err := s.middleware.ProcessResponse(msg); err != nil {
		s.logger.Error().Err(err).Msg("process API response")
	}
}

func isTokenRequest(msg auth.Message) bool {
	raw, ok := msg["Type"]
	if !ok {
		return false
	}
	var msgType string
	if err := json.Unmarshal(raw, &msgType); err != nil {
		return false
	}
	return msgType == "GUIToken"
}

// handleTokenRequest answers GUIToken Create requests locally. Tokens let
// the GUI re-identify the user without keeping the password around.
func (s *session) handleTokenRequest(msg auth.Message) {
	requestID := requestIDOf(msg)
	if s.proxy.Tokens == nil {
		s.replyErrorID(requestID, "token support is not configured")
		return
	}
	if !s.user.Authenticated {
		s.replyErrorID(requestID, "tokens can only be created by authenticated users")
		return
	}
	token, err := s.proxy.Tokens.Mint(s.user.Username)
	if err != nil {
		s.replyErrorID(requestID, "cannot create token")
		s.logger.Error().Err(err).Msg("mint token")
		return
	}
	s.reply(map[string]any{
		"RequestId": requestID,
		"Response":  map[string]any{"Token": token},
	})
}

func requestIDOf(msg auth.Message) uint64 {
	raw, ok := msg["RequestId"]
	if !ok {
		return 0
	}
	var id uint64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0
	}
	return id
}

func (s *session) replyError(msg auth.Message, errText string) {
	s.replyErrorID(requestIDOf(msg), errText)
}

func (s *session) replyErrorID(requestID uint64, errText string) {
	s.reply(map[string]any{
		"RequestId": requestID,
		"Error":     errText,
	})
}

func (s *session) reply(body map[string]any) {
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode reply")
		return
	}
	if err := s.send(data); err != nil {
		s.logger.Error().Err(err).Msg("send reply")
	}
}

func (s *session) send(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.client.WriteMessage(websocket.TextMessage, data)
}

// readMessages pumps frames from conn into the returned channel. The
// channel is closed when the connection fails or closes.
func readMessages(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 16)
	go func() {
		defer close(ch)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ch <- data
		}
	}()
	return ch
}
