// Package auth tracks user authentication by observing the login
// request/response pairs flowing through the WebSocket proxy.
package auth

import (
	"encoding/json"
	"fmt"
)

// User holds the credentials and authentication state of a connected client.
type User struct {
	Username      string
	Password      string
	Authenticated bool
}

func (u *User) String() string {
	if u.Authenticated {
		return fmt.Sprintf("user: %s", u.Username)
	}
	return "user not authenticated"
}

// Message is a decoded API message. Both request and response frames
// decode into this shape; unset fields stay at their zero value.
type Message map[string]json.RawMessage

// Codec understands the login conversation of one Juju API version.
type Codec interface {
	// RequestID extracts the request identifier, reporting whether one
	// is present.
	RequestID(msg Message) (uint64, bool)
	// IsLogin reports whether the request is a login attempt.
	IsLogin(msg Message) bool
	// Credentials extracts the username and password from a login request.
	Credentials(msg Message) (username, password string, err error)
	// LoginSucceeded reports whether a login response indicates success.
	LoginSucceeded(msg Message) bool
}

// CodecFor returns the codec for the given API version ("go" or "python").
func CodecFor(apiVersion string) (Codec, error) {
	switch apiVersion {
	case "go":
		return goCodec{}, nil
	case "python":
		return pythonCodec{}, nil
	}
	return nil, fmt.Errorf("unsupported api version %q", apiVersion)
}

func rawString(msg Message, key string) string {
	raw, ok := msg[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func rawUint(msg Message, key string) (uint64, bool) {
	raw, ok := msg[key]
	if !ok {
		return 0, false
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

// goCodec speaks the juju-core API login conversation.
type goCodec struct{}

func (goCodec) RequestID(msg Message) (uint64, bool) {
	return rawUint(msg, "RequestId")
}

func (goCodec) IsLogin(msg Message) bool {
	return rawString(msg, "Type") == "Admin" && rawString(msg, "Request") == "Login"
}

func (goCodec) Credentials(msg Message) (string, string, error) {
	raw, ok := msg["Params"]
	if !ok {
		return "", "", fmt.Errorf("login request has no Params")
	}
	var params struct {
		AuthTag  string `json:"AuthTag"`
		Password string `json:"Password"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return "", "", fmt.Errorf("decode login params: %w", err)
	}
	return params.AuthTag, params.Password, nil
}

func (goCodec) LoginSucceeded(msg Message) bool {
	_, hasError := msg["Error"]
	return !hasError
}

// pythonCodec speaks the legacy pyjuju API login conversation.
type pythonCodec struct{}

func (pythonCodec) RequestID(msg Message) (uint64, bool) {
	return rawUint(msg, "request_id")
}

func (pythonCodec) IsLogin(msg Message) bool {
	return rawString(msg, "op") == "login"
}

func (pythonCodec) Credentials(msg Message) (string, string, error) {
	user := rawString(msg, "user")
	password := rawString(msg, "password")
	if user == "" {
		return "", "", fmt.Errorf("login request has no user")
	}
	return user, password, nil
}

func (pythonCodec) LoginSucceeded(msg Message) bool {
	raw, ok := msg["result"]
	if !ok {
		return false
	}
	var result bool
	if err := json.Unmarshal(raw, &result); err != nil {
		return false
	}
	_, hasError := msg["error"]
	return result && !hasError
}

// Middleware observes the messages exchanged between a client and the API
// server and keeps the per-connection User in sync with the login outcome.
// One middleware instance belongs to exactly one connection.
type Middleware struct {
	user   *User
	codec  Codec
	tokens *TokenManager

	pendingID  uint64
	inProgress bool
}

// NewMiddleware returns a middleware tracking authentication for user.
// tokens may be nil when token authentication is not configured.
func NewMiddleware(user *User, codec Codec, tokens *TokenManager) *Middleware {
	return &Middleware{user: user, codec: codec, tokens: tokens}
}

// InProgress reports whether a login attempt is awaiting its response.
func (m *Middleware) InProgress() bool { return m.inProgress }

// ProcessRequest inspects a client request before it is forwarded to the
// API server. Login requests record the credentials and the request id so
// that the matching response can settle the authentication state.
func (m *Middleware) ProcessRequest(msg Message) error {
	if !m.codec.IsLogin(msg) {
		return nil
	}
	id, ok := m.codec.RequestID(msg)
	if !ok {
		return fmt.Errorf("login request without a request id")
	}
	username, password, err := m.codec.Credentials(msg)
	if err != nil {
		return err
	}
	m.user.Username = username
	m.user.Password = password
	m.user.Authenticated = false
	m.pendingID = id
	m.inProgress = true
	return nil
}

// ProcessResponse inspects an API server response before it is forwarded to
// the client. The response matching a pending login settles the user state
// and, when a token manager is configured, returns a freshly minted session
// token to attach to the response.
func (m *Middleware) ProcessResponse(msg Message) (token string, err error) {
	if !m.inProgress {
		return "", nil
	}
	id, ok := m.codec.RequestID(msg)
	if !ok || id != m.pendingID {
		return "", nil
	}
	m.inProgress = false
	m.user.Authenticated = m.codec.LoginSucceeded(msg)
	if !m.user.Authenticated {
		m.user.Username = ""
		m.user.Password = ""
		return "", nil
	}
	if m.tokens == nil {
		return "", nil
	}
	return m.tokens.Mint(m.user.Username)
}
