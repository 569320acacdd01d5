package bundles

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// APIImporter deploys bundles by driving the Juju WebSocket API directly:
// it logs in with the configured credentials, deploys every service in the
// bundle and then adds the declared relations.
type APIImporter struct {
	URL      string
	Insecure bool
	Username string
	Password string
	Logger   zerolog.Logger
}

// Import runs the bundle deployment. It returns the first API error
// encountered.
func (imp *APIImporter) Import(ctx context.Context, bundle *Bundle) error {
	dialer := websocket.Dialer{}
	if imp.Insecure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	conn, _, err := dialer.DialContext(ctx, imp.URL, nil)
	if err != nil {
		return fmt.Errorf("connect to the API server: %w", err)
	}
	defer conn.Close()

	client := &apiClient{conn: conn}
	if err := client.call(ctx, "Admin", "Login", map[string]any{
		"AuthTag":  imp.Username,
		"Password": imp.Password,
	}, nil); err != nil {
		return fmt.Errorf("log in to the API server: %w", err)
	}

	for name, raw := range bundle.Services {
		service, _ := raw.(map[string]any)
		if err := imp.deployService(ctx, client, name, service); err != nil {
			return err
		}
	}
	return imp.addRelations(ctx, client, bundle)
}

func (imp *APIImporter) deployService(ctx context.Context, client *apiClient, name string, service map[string]any) error {
	charmURL, _ := service["charm"].(string)
	if charmURL == "" {
		return fmt.Errorf("service %q does not declare a charm", name)
	}
	numUnits := 1
	if n, ok := service["num_units"].(int); ok {
		numUnits = n
	}
	params := map[string]any{
		"ServiceName": name,
		"CharmUrl":    charmURL,
		"NumUnits":    numUnits,
	}
	if options, ok := service["options"].(map[string]any); ok && len(options) > 0 {
		params["Config"] = options
	}
	imp.Logger.Info().Str("service", name).Str("charm", charmURL).Msg("deploying service")
	if err := client.call(ctx, "Client", "ServiceDeploy", params, nil); err != nil {
		return fmt.Errorf("deploy service %q: %w", name, err)
	}
	return nil
}

func (imp *APIImporter) addRelations(ctx context.Context, client *apiClient, bundle *Bundle) error {
	raw, ok := bundle.Content["relations"].([]any)
	if !ok {
		return nil
	}
	for _, rel := range raw {
		pair, ok := rel.([]any)
		if !ok || len(pair) != 2 {
			return fmt.Errorf("malformed relation %v", rel)
		}
		first, _ := pair[0].(string)
		second, _ := pair[1].(string)
		imp.Logger.Info().Str("from", first).Str("to", second).Msg("adding relation")
		err := client.call(ctx, "Client", "AddRelation", map[string]any{
			"Endpoints": []string{first, second},
		}, nil)
		if err != nil {
			return fmt.Errorf("add relation %s %s: %w", first, second, err)
		}
	}
	return nil
}

// apiClient issues sequential request/response calls over one connection.
type apiClient struct {
	conn      *websocket.Conn
	requestID uint64
}

func (c *apiClient) call(ctx context.Context, callType, request string, params, result any) error {
	c.requestID++
	req := map[string]any{
		"RequestId": c.requestID,
		"Type":      callType,
		"Request":   request,
		"Params":    params,
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		_ = c.conn.SetReadDeadline(deadline)
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return err
	}
	var resp struct {
		RequestID uint64          `json:"RequestId"`
		Error     string          `json:"Error"`
		Response  json.RawMessage `json:"Response"`
	}
	for {
		if err := c.conn.ReadJSON(&resp); err != nil {
			return err
		}
		if resp.RequestID == c.requestID {
			break
		}
	}
	if resp.Error != "" {
		return fmt.Errorf("api error: %s", resp.Error)
	}
	if result != nil && len(resp.Response) > 0 {
		return json.Unmarshal(resp.Response, result)
	}
	return nil
}
