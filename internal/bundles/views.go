package bundles

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tiger66639/juju-gui-charm/internal/auth"
	"github.com/Tiger66639/juju-gui-charm/internal/model"
)

// SendFunc delivers a response frame to the client. Implementations must
// be safe for concurrent use: Next responses arrive from goroutines that
// outlive the dispatching call.
type SendFunc func(data []byte)

type envelope struct {
	RequestID uint64 `json:"RequestId"`
	Response  any    `json:"Response,omitempty"`
	Error     string `json:"Error,omitempty"`
}

type deploymentRequest struct {
	RequestID uint64 `json:"RequestId"`
	Type      string `json:"Type"`
	Request   string `json:"Request"`
	Params    struct {
		Name         string `json:"Name"`
		YAML         string `json:"YAML"`
		DeploymentID string `json:"DeploymentId"`
		WatcherID    string `json:"WatcherId"`
	} `json:"Params"`
}

// Views answers Deployment requests arriving on a GUI WebSocket
// connection. All operations require an authenticated user.
type Views struct {
	deployer *Deployer
	user     *auth.User
	logger   zerolog.Logger
}

// NewViews returns the Deployment request handler for one connection.
func NewViews(deployer *Deployer, user *auth.User, logger zerolog.Logger) *Views {
	return &Views{deployer: deployer, user: user, logger: logger}
}

// Handles reports whether the raw message is a Deployment request that
// must be answered locally rather than proxied to the Juju API.
func Handles(msg auth.Message) bool {
	raw, ok := msg["Type"]
	if !ok {
		return false
	}
	var msgType string
	if err := json.Unmarshal(raw, &msgType); err != nil {
		return false
	}
	return msgType == "Deployment"
}

// Dispatch answers one Deployment request. Responses go through send;
// Next requests block on new changes and are answered from their own
// goroutine.
func (v *Views) Dispatch(ctx context.Context, data []byte, send SendFunc) {
	var req deploymentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		v.logger.Error().Err(err).Msg("malformed deployment request")
		return
	}
	if !v.user.Authenticated {
		v.reply(send, req.RequestID, nil, fmt.Errorf("unauthorized access: no user logged in"))
		return
	}
	switch req.Request {
	case "Import":
		v.handleImport(ctx, req, send)
	case "Watch":
		v.handleWatch(req, send)
	case "Next":
		go v.handleNext(ctx, req, send)
	case "Status":
		v.reply(send, req.RequestID, map[string]any{"LastChanges": v.deployer.Status()}, nil)
	case "Cancel":
		v.handleCancel(ctx, req, send)
	default:
		v.reply(send, req.RequestID, nil, fmt.Errorf("invalid deployment request: %s", req.Request))
	}
}

func (v *Views) handleImport(ctx context.Context, req deploymentRequest, send SendFunc) {
	if req.Params.YAML == "" {
		v.reply(send, req.RequestID, nil, fmt.Errorf("invalid data parameters: no YAML provided"))
		return
	}
	bundle, err := ParseBundle(req.Params.YAML, req.Params.Name)
	if err != nil {
		v.reply(send, req.RequestID, nil, err)
		return
	}
	id := v.deployer.Import(ctx, bundle, v.user.Username)
	v.reply(send, req.RequestID, map[string]any{"DeploymentId": id}, nil)
}

func (v *Views) handleWatch(req deploymentRequest, send SendFunc) {
	deploymentID, err := uuid.Parse(req.Params.DeploymentID)
	if err != nil {
		v.reply(send, req.RequestID, nil, fmt.Errorf("invalid deployment id"))
		return
	}
	watcherID, err := v.deployer.Watch(deploymentID)
	if err != nil {
		v.reply(send, req.RequestID, nil, err)
		return
	}
	v.reply(send, req.RequestID, map[string]any{"WatcherId": watcherID}, nil)
}

// handleNext blocks until changes are available, so Dispatch runs it on
// its own goroutine.
func (v *Views) handleNext(ctx context.Context, req deploymentRequest, send SendFunc) {
	watcherID, err := uuid.Parse(req.Params.WatcherID)
	if err != nil {
		v.reply(send, req.RequestID, nil, fmt.Errorf("invalid watcher id"))
		return
	}
	changes, err := v.deployer.Next(ctx, watcherID)
	if err != nil {
		v.reply(send, req.RequestID, nil, err)
		return
	}
	if changes == nil {
		changes = []model.DeploymentChange{}
	}
	v.reply(send, req.RequestID, map[string]any{"Changes": changes}, nil)
}

func (v *Views) handleCancel(ctx context.Context, req deploymentRequest, send SendFunc) {
	deploymentID, err := uuid.Parse(req.Params.DeploymentID)
	if err != nil {
		v.reply(send, req.RequestID, nil, fmt.Errorf("invalid deployment id"))
		return
	}
	if err := v.deployer.Cancel(ctx, deploymentID); err != nil {
		v.reply(send, req.RequestID, nil, err)
		return
	}
	v.reply(send, req.RequestID, map[string]any{}, nil)
}

func (v *Views) reply(send SendFunc, requestID uint64, response any, err error) {
	env := envelope{RequestID: requestID, Response: response}
	if err != nil {
		env.Error = err.Error()
	}
	data, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		v.logger.Error().Err(marshalErr).Msg("encode deployment response")
		return
	}
	send(data)
}
