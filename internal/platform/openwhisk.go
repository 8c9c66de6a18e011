package platform

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/apache/openwhisk-client-go/whisk"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 * 1024

// activationHeader carries the activation id of an invocation.
const activationHeader = "X-Openwhisk-Activation-Id"

// Config holds OpenWhisk connection settings.
type Config struct {
	// APIHost is the platform endpoint, with or without a scheme.
	APIHost string
	// Auth is the "uuid:key" credential pair.
	Auth      string
	Namespace string
	// Package groups actions. "default" or empty means no package.
	Package  string
	Insecure bool
	Timeout  time.Duration
}

// OpenWhiskClient implements Client on top of the OpenWhisk Go client.
type OpenWhiskClient struct {
	host      string
	config    whisk.Config
	pkg       string
	timeout   time.Duration
	transport http.RoundTripper
	logger    *slog.Logger
}

// NewOpenWhiskClient creates a new OpenWhisk client.
func NewOpenWhiskClient(cfg Config, logger *slog.Logger) (*OpenWhiskClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIHost == "" {
		return nil, errors.New("platform api host is required")
	}
	if cfg.Auth != "" && !strings.Contains(cfg.Auth, ":") {
		return nil, errors.New("platform auth must be in uuid:key form")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "_"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 70 * time.Second
	}

	host := cfg.APIHost
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	host = strings.TrimSuffix(host, "/")
	base, err := whisk.GetUrlBase(host)
	if err != nil {
		return nil, fmt.Errorf("parsing platform api host: %w", err)
	}

	// TLS stays on our transport; whisk replaces the transport when it
	// handles Insecure itself.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // local platform deployments use self-signed certs
	}

	return &OpenWhiskClient{
		host: host,
		config: whisk.Config{
			Host:      host,
			BaseURL:   base,
			AuthToken: cfg.Auth,
			Namespace: cfg.Namespace,
			Version:   "v1",
		},
		pkg:       cfg.Package,
		timeout:   cfg.Timeout,
		transport: transport,
		logger:    logger,
	}, nil
}

// contextTransport binds every request of one call to ctx.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(r.WithContext(t.ctx))
}

// conn returns a whisk client scoped to one call. Activation calls rewrite
// the client's namespace, so clients are never shared.
func (c *OpenWhiskClient) conn(ctx context.Context) (*whisk.Client, error) {
	cfg := c.config
	hc := &http.Client{
		Timeout:   c.timeout,
		Transport: contextTransport{ctx: ctx, base: c.transport},
	}
	return whisk.NewClient(hc, &cfg)
}

// qualifiedName returns the action name prefixed by the configured package.
func (c *OpenWhiskClient) qualifiedName(name string) string {
	if c.pkg == "" || c.pkg == "default" {
		return name
	}
	return c.pkg + "/" + name
}

// Exists reports whether the action is deployed.
func (c *OpenWhiskClient) Exists(ctx context.Context, name string) (bool, error) {
	wc, err := c.conn(ctx)
	if err != nil {
		return false, err
	}
	_, resp, err := wc.Actions.Get(c.qualifiedName(name), false)
	switch {
	case err == nil:
		return true, nil
	case statusOf(resp) == http.StatusNotFound:
		return false, nil
	default:
		return false, callError("getting action "+name, resp, err)
	}
}

// Create deploys a new action.
func (c *OpenWhiskClient) Create(ctx context.Context, spec *ActionSpec) error {
	return c.put(ctx, spec, false)
}

// Update replaces an existing action.
func (c *OpenWhiskClient) Update(ctx context.Context, spec *ActionSpec) error {
	return c.put(ctx, spec, true)
}

func (c *OpenWhiskClient) put(ctx context.Context, spec *ActionSpec, overwrite bool) error {
	if spec == nil || spec.Name == "" {
		return errors.New("action name is required")
	}

	code, binary := spec.Source, false
	if len(spec.Archive) > 0 {
		code, binary = base64.StdEncoding.EncodeToString(spec.Archive), true
	}
	action := &whisk.Action{
		Name: c.qualifiedName(spec.Name),
		Exec: &whisk.Exec{Kind: spec.Kind, Code: &code, Binary: &binary, Main: spec.Main},
	}

	annotations := spec.Annotations
	if spec.Web && annotations == nil {
		annotations = WebAnnotations()
	}
	keys := make([]string, 0, len(annotations))
	for k := range annotations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		action.Annotations = append(action.Annotations, whisk.KeyValue{Key: k, Value: annotations[k]})
	}

	wc, err := c.conn(ctx)
	if err != nil {
		return err
	}
	_, resp, err := wc.Actions.Insert(action, overwrite)
	if err == nil {
		c.logger.Debug("action stored", "action", spec.Name, "kind", spec.Kind, "overwrite", overwrite)
		return nil
	}

	op := "putting action " + spec.Name
	switch statusOf(resp) {
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", op, ErrActionExists)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrActionNotFound)
	default:
		return callError(op, resp, err)
	}
}

// Invoke runs the action with blocking=true and result=true.
func (c *OpenWhiskClient) Invoke(ctx context.Context, name string, params json.RawMessage) (*InvokeResponse, error) {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	wc, err := c.conn(ctx)
	if err != nil {
		return nil, &InvokeError{Message: err.Error(), Err: err}
	}

	_, resp, err := wc.Actions.Invoke(c.qualifiedName(name), params, true, true)
	if resp == nil {
		cause := rootCause(err)
		ie := &InvokeError{Message: cause.Error(), Err: cause}
		if errors.Is(cause, context.DeadlineExceeded) || isTimeout(cause) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			ie.Timeout = true
		}
		return nil, ie
	}
	defer resp.Body.Close()

	// whisk reloads the body after decoding it; the raw bytes are the result.
	data, readErr := io.ReadAll(resp.Body)
	activationID := resp.Header.Get(activationHeader)
	if readErr != nil {
		return nil, &InvokeError{StatusCode: resp.StatusCode, Message: "reading result: " + readErr.Error(), ActivationID: activationID, Err: readErr}
	}

	var envelope struct {
		Error        json.RawMessage `json:"error"`
		ActivationID string          `json:"activationId"`
	}
	_ = json.Unmarshal(data, &envelope)
	if activationID == "" {
		activationID = envelope.ActivationID
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return &InvokeResponse{Result: data, ActivationID: activationID}, nil
	case resp.StatusCode == http.StatusBadGateway && len(envelope.Error) > 0:
		// The action itself failed; the body is its error result.
		return &InvokeResponse{Result: data, ActivationID: activationID}, nil
	case resp.StatusCode == http.StatusAccepted:
		return nil, &InvokeError{
			StatusCode:   resp.StatusCode,
			Message:      "platform did not return a result before the blocking timeout",
			ActivationID: activationID,
			Timeout:      true,
		}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &InvokeError{StatusCode: resp.StatusCode, Message: ErrActionNotFound.Error(), ActivationID: activationID, Err: ErrActionNotFound}
	default:
		return nil, &InvokeError{
			StatusCode:   resp.StatusCode,
			Message:      errorText(envelope.Error, data),
			ActivationID: activationID,
		}
	}
}

// Delete removes an action.
func (c *OpenWhiskClient) Delete(ctx context.Context, name string) error {
	wc, err := c.conn(ctx)
	if err != nil {
		return err
	}
	resp, err := wc.Actions.Delete(c.qualifiedName(name))
	switch {
	case err == nil:
		return nil
	case statusOf(resp) == http.StatusNotFound:
		return fmt.Errorf("deleting action %s: %w", name, ErrActionNotFound)
	default:
		return callError("deleting action "+name, resp, err)
	}
}

// ListActivations returns up to limit activation ids for the action.
func (c *OpenWhiskClient) ListActivations(ctx context.Context, name string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1
	}
	wc, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	records, resp, err := wc.Activations.List(&whisk.ActivationListOptions{
		Name:  c.qualifiedName(name),
		Limit: limit,
	})
	if err != nil {
		return nil, callError("listing activations for "+name, resp, err)
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		if r.ActivationID != "" {
			ids = append(ids, r.ActivationID)
		}
	}
	return ids, nil
}

// GetActivation fetches one activation record.
func (c *OpenWhiskClient) GetActivation(ctx context.Context, id string) (*Activation, error) {
	wc, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	a, resp, err := wc.Activations.Get(id)
	if err != nil {
		return nil, callError("getting activation "+id, resp, err)
	}

	act := &Activation{
		ActivationID: a.ActivationID,
		Namespace:    a.Namespace,
		Name:         a.Name,
		Start:        a.Start,
		End:          a.End,
		Duration:     a.Duration,
		Logs:         a.Logs,
		Response: ActivationResponse{
			Status:     a.Response.Status,
			StatusCode: a.Response.StatusCode,
			Success:    a.Response.Success,
		},
	}
	if a.Response.Result != nil {
		result, err := json.Marshal(a.Response.Result)
		if err != nil {
			return nil, fmt.Errorf("encoding activation result: %w", err)
		}
		act.Response.Result = result
	}
	return act, nil
}

// Ping checks that the platform accepts the configured credentials.
func (c *OpenWhiskClient) Ping(ctx context.Context) error {
	wc, err := c.conn(ctx)
	if err != nil {
		return err
	}
	if _, resp, err := wc.Actions.List("", &whisk.ActionListOptions{Limit: 1}); err != nil {
		if resp == nil {
			return fmt.Errorf("reaching platform: %w", rootCause(err))
		}
		return fmt.Errorf("platform responded: %s", readAPIError(resp))
	}
	return nil
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

// callError renders a failed call. Responses carry the platform's own
// error text; calls that never got one keep the transport failure.
func callError(op string, resp *http.Response, err error) error {
	if resp == nil {
		return fmt.Errorf("%s: %w", op, rootCause(err))
	}
	return fmt.Errorf("%s: %s", op, readAPIError(resp))
}

// rootCause unwraps a whisk error to the failure underneath it.
func rootCause(err error) error {
	var we *whisk.WskError
	if errors.As(err, &we) && we.RootErr != nil {
		return we.RootErr
	}
	return err
}

// readAPIError renders a non-success response as an error message.
func readAPIError(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	_ = json.Unmarshal(data, &body)
	return fmt.Sprintf("status %d: %s", resp.StatusCode, errorText(body.Error, data))
}

// errorText returns the "error" field as text, falling back to the raw body.
func errorText(field json.RawMessage, raw []byte) string {
	if len(field) > 0 {
		var s string
		if err := json.Unmarshal(field, &s); err == nil {
			return s
		}
		return string(field)
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
