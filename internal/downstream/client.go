// Package downstream performs single dispatch calls against the playbook
// and ingestion engines and classifies what came back.
package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sony/gobreaker"

	"mapdispatch/internal/event"
	"mapdispatch/internal/logging"
	"mapdispatch/internal/mapping"
	"mapdispatch/internal/result"
)

const (
	logSnippet   = 100
	maxRespBytes = 4 << 10
)

var errTransient = errors.New("downstream: transient engine failure")

type Option func(*Client)

// WithHTTPClient replaces the transport. Its Timeout should be zero: each
// call is bounded by the tenant's request timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreaker puts a circuit breaker in front of the tenant's engines.
// onChange, if set, observes open (true) / closed (false) transitions.
func WithBreaker(cfg BreakerConfig, onChange func(open bool)) Option {
	return func(c *Client) {
		if !cfg.Enabled {
			return
		}
		cfg.applyDefaults()
		tenant := c.tenant.ID
		c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "engine-" + tenant,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			},
			OnStateChange: func(_ string, from, to gobreaker.State) {
				logging.L().Warn("engine breaker state change", "tenant", tenant, "from", from.String(), "to", to.String())
				if onChange != nil {
					onChange(to == gobreaker.StateOpen)
				}
			},
		})
	}
}

// Client is the per-tenant engine context: built once per tenant and shared
// by every dispatch for that tenant.
type Client struct {
	tenant Tenant
	http   *http.Client
	cb     *gobreaker.CircuitBreaker
	auth   http.Header
}

func NewClient(t Tenant, opts ...Option) *Client {
	c := &Client{tenant: t, http: &http.Client{}, auth: http.Header{}}
	if t.AccessToken != "" {
		c.auth.Set("Authorization", "Bearer "+t.AccessToken)
	}
	if t.APIKey != "" {
		c.auth.Set("X-API-KEY", t.APIKey)
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Tenant() Tenant { return c.tenant }

// Dispatch resolves m against ev and performs one call.
func (c *Client) Dispatch(ctx context.Context, ev event.Event, m mapping.Mapping) result.Result {
	t, err := Resolve(ev, m)
	if err != nil {
		logging.L().Error("dispatch rejected", "action", "resolve", "state", "ERROR",
			"tenant", ev.Tenant(), "mapping_id", m.ID, "error", err)
		return result.InvalidEvent
	}
	return c.Send(ctx, t)
}

type playbookRequest struct {
	PlaybookID string      `json:"playbook_id"`
	InputEvent event.Event `json:"input_event"`
	ConfigID   string      `json:"config_id,omitempty"`
}

// Send performs exactly one HTTP call for an already resolved target.
func (c *Client) Send(ctx context.Context, t Target) result.Result {
	hdr := c.auth.Clone()
	var (
		action, endpoint string
		body             any
	)
	switch t := t.(type) {
	case PlaybookTarget:
		tenant := t.Tenant
		if tenant == "" {
			tenant = c.tenant.ID
		}
		action = "run_playbook"
		endpoint = strings.TrimRight(c.tenant.EngineAPIURI, "/") + "/" + url.PathEscape(tenant) + "/engine/_run_playbook"
		body = playbookRequest{PlaybookID: t.PlaybookID, InputEvent: t.Event, ConfigID: t.ConfigID}
	case IngestionTarget:
		action = "ingest"
		endpoint = c.tenant.IngestAPI
		body = t.Payload
		if t.Tenant != "" {
			hdr.Set("Tenant", t.Tenant)
		}
	default:
		logging.L().Error("unknown dispatch target", "type", fmt.Sprintf("%T", t))
		return result.UndefinedError
	}

	log := logging.L().With("action", action, "tenant", c.tenant.ID, "mapping_id", t.MappingID(), "url", redact(endpoint))

	raw, err := json.Marshal(body)
	if err != nil {
		log.Error("engine call", "state", "ERROR", "error", err)
		return result.UndefinedError
	}
	log.Debug("engine call", "state", "START", "body", truncate(string(raw)))

	if c.cb == nil {
		return c.post(ctx, log, endpoint, hdr, raw)
	}
	v, err := c.cb.Execute(func() (any, error) {
		res := c.post(ctx, log, endpoint, hdr, raw)
		if res.Retryable() {
			return res, errTransient
		}
		return res, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		log.Warn("engine call", "state", "ERROR", "error", err)
		return result.EngineConnectionError
	}
	res, _ := v.(result.Result)
	return res
}

func (c *Client) post(ctx context.Context, log *slog.Logger, endpoint string, hdr http.Header, raw []byte) result.Result {
	ctx, cancel := context.WithTimeout(ctx, c.tenant.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		log.Error("engine call", "state", "ERROR", "error", err)
		return result.UndefinedError
	}
	req.Header = hdr
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		res := classifyError(err)
		log.Error("engine call", "state", "ERROR", "result", res.String(), "error", err)
		return res
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxRespBytes))

	res := classifyStatus(resp.StatusCode)
	attrs := []any{"body", truncate(string(raw)), "status", resp.StatusCode, "response", truncate(string(snippet)), "result", res.String()}
	if res == result.Succeed {
		log.Info("engine call", append([]any{"state", "SUCCESS"}, attrs...)...)
	} else {
		log.Error("engine call", append([]any{"state", "ERROR"}, attrs...)...)
	}
	return res
}

func truncate(s string) string {
	if len(s) <= logSnippet {
		return s
	}
	cut := logSnippet
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// redact drops userinfo so credentials in a configured URL never reach logs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
