package cloudflare

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/agentstudio/tunnel-proxy/pkg/rand"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://api.cloudflare.com/client/v4"

	// TunnelRoutingSuffix is the domain tunnel CNAMEs point at.
	TunnelRoutingSuffix = "cfargotunnel.com"

	// ttlAuto is Cloudflare's "automatic TTL" sentinel.
	ttlAuto = 1

	recordComment = "Managed by tunnel-proxy"

	defaultTimeout = 30 * time.Second
)

// Config carries everything needed to talk to the Cloudflare API. It is
// built once at process start and injected; there is no ambient state.
type Config struct {
	APIToken     string
	AccountID    string
	ZoneID       string
	ParentDomain string
	BaseURL      string
	Timeout      time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.APIToken == "" || cfg.AccountID == "" || cfg.ZoneID == "" || cfg.ParentDomain == "" {
		return nil, fmt.Errorf("cloudflare: api token, account id, zone id and parent domain must all be set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) ParentDomain() string {
	return c.cfg.ParentDomain
}

// Hostname returns the full public hostname for a subdomain label.
func (c *Client) Hostname(subdomain string) string {
	return subdomain + "." + c.cfg.ParentDomain
}

// APIError is returned for any non-2xx status, success:false envelope or
// transport failure. Message carries the upstream error verbatim.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloudflare %s: %s", e.Op, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors"`
	ResultInfo *resultInfo `json:"result_info"`
}

type resultInfo struct {
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
}

// do performs one API call and decodes the response envelope. Calls are
// synchronous and retryless; anything but a 2xx success envelope fails
// fast with an APIError.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body interface{}) (*envelope, error) {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = bytes.NewReader(b)
	}

	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &APIError{Op: op, Status: resp.StatusCode, Message: fmt.Sprintf("decoding response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || !env.Success {
		msg := "unknown error"
		if len(env.Errors) > 0 {
			msg = env.Errors[0].Message
		}
		return nil, &APIError{Op: op, Status: resp.StatusCode, Message: msg}
	}

	return &env, nil
}

type Tunnel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Secret    string `json:"-"`
	CreatedAt string `json:"created_at"`
}

type DNSRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Proxied bool   `json:"proxied"`
}

// CreateTunnel creates a remotely-configured tunnel. When secret is empty
// a 32 character mixed-case alphanumeric one is generated.
func (c *Client) CreateTunnel(ctx context.Context, name, secret string) (Tunnel, error) {
	if secret == "" {
		secret = rand.Secret(rand.SecretLength)
	}

	body := map[string]interface{}{
		"name":          name,
		"tunnel_secret": secret,
		"config_src":    "cloudflare",
	}

	env, err := c.do(ctx, "create tunnel", http.MethodPost, "/accounts/"+c.cfg.AccountID+"/cfd_tunnel", nil, body)
	if err != nil {
		return Tunnel{}, err
	}

	var t Tunnel
	if err := json.Unmarshal(env.Result, &t); err != nil {
		return Tunnel{}, &APIError{Op: "create tunnel", Message: fmt.Sprintf("decoding result: %v", err)}
	}
	t.Secret = secret

	return t, nil
}

func (c *Client) DeleteTunnel(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete tunnel", http.MethodDelete, "/accounts/"+c.cfg.AccountID+"/cfd_tunnel/"+id, nil, nil)
	return err
}

// CreateDNSRecord creates the proxied CNAME that aliases the subdomain to
// the tunnel's routing endpoint.
func (c *Client) CreateDNSRecord(ctx context.Context, subdomain, tunnelID string) (DNSRecord, error) {
	body := map[string]interface{}{
		"type":    "CNAME",
		"name":    subdomain,
		"content": tunnelID + "." + TunnelRoutingSuffix,
		"ttl":     ttlAuto,
		"proxied": true,
		"comment": recordComment,
	}

	env, err := c.do(ctx, "create dns record", http.MethodPost, "/zones/"+c.cfg.ZoneID+"/dns_records", nil, body)
	if err != nil {
		return DNSRecord{}, err
	}

	var r DNSRecord
	if err := json.Unmarshal(env.Result, &r); err != nil {
		return DNSRecord{}, &APIError{Op: "create dns record", Message: fmt.Sprintf("decoding result: %v", err)}
	}

	return r, nil
}

func (c *Client) DeleteDNSRecord(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete dns record", http.MethodDelete, "/zones/"+c.cfg.ZoneID+"/dns_records/"+id, nil, nil)
	return err
}

// RecordExists reports whether a CNAME for the subdomain already exists in
// the zone. The check is advisory: any failure is reported as "does not
// exist" rather than propagated, so it can never block a caller.
func (c *Client) RecordExists(ctx context.Context, subdomain string) bool {
	q := url.Values{}
	q.Set("type", "CNAME")
	q.Set("name", c.Hostname(subdomain))

	env, err := c.do(ctx, "query dns records", http.MethodGet, "/zones/"+c.cfg.ZoneID+"/dns_records", q, nil)
	if err != nil {
		logrus.Debugf("dns existence check for %s failed: %v", subdomain, err)
		return false
	}

	var records []DNSRecord
	if err := json.Unmarshal(env.Result, &records); err != nil {
		logrus.Debugf("dns existence check for %s returned undecodable result: %v", subdomain, err)
		return false
	}

	return len(records) > 0
}

// ListDNSRecords returns one page of the zone's CNAME records plus whether
// further pages remain. Pages start at 1.
func (c *Client) ListDNSRecords(ctx context.Context, page int) ([]DNSRecord, bool, error) {
	q := url.Values{}
	q.Set("type", "CNAME")
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", "100")

	env, err := c.do(ctx, "list dns records", http.MethodGet, "/zones/"+c.cfg.ZoneID+"/dns_records", q, nil)
	if err != nil {
		return nil, false, err
	}

	var records []DNSRecord
	if err := json.Unmarshal(env.Result, &records); err != nil {
		return nil, false, &APIError{Op: "list dns records", Message: fmt.Sprintf("decoding result: %v", err)}
	}

	more := env.ResultInfo != nil && env.ResultInfo.Page < env.ResultInfo.TotalPages
	return records, more, nil
}

type IngressRule struct {
	Hostname      string         `json:"hostname,omitempty"`
	Service       string         `json:"service"`
	OriginRequest *OriginRequest `json:"originRequest,omitempty"`
}

type OriginRequest struct {
	NoTLSVerify bool `json:"noTLSVerify"`
}

type RouteConfig struct {
	Ingress []IngressRule `json:"ingress"`
}

// ConfigureRoute points the hostname at the local service. The catch-all
// 404 rule is mandatory and must stay last; Cloudflare rejects ingress
// lists without it.
func (c *Client) ConfigureRoute(ctx context.Context, tunnelID, hostname string, localPort int) (RouteConfig, error) {
	cfg := RouteConfig{
		Ingress: []IngressRule{
			{
				Hostname:      hostname,
				Service:       fmt.Sprintf("http://localhost:%d", localPort),
				OriginRequest: &OriginRequest{NoTLSVerify: true},
			},
			{
				Service: "http_status:404",
			},
		},
	}

	_, err := c.do(ctx, "configure route", http.MethodPut,
		"/accounts/"+c.cfg.AccountID+"/cfd_tunnel/"+tunnelID+"/configurations",
		nil, map[string]interface{}{"config": cfg})
	if err != nil {
		return RouteConfig{}, err
	}

	return cfg, nil
}

type tunnelToken struct {
	AccountID string `json:"a"`
	TunnelID  string `json:"t"`
	Secret    string `json:"s"`
}

// Token encodes the credential bundle cloudflared decodes to attach to a
// tunnel: standard base64 (padded) over the JSON object {a, t, s}.
func (c *Client) Token(tunnelID, secret string) string {
	b, err := json.Marshal(tunnelToken{
		AccountID: c.cfg.AccountID,
		TunnelID:  tunnelID,
		Secret:    secret,
	})
	if err != nil {
		// marshaling a struct of strings cannot fail
		logrus.Fatalf("encoding tunnel token: %v", err)
	}

	return base64.StdEncoding.EncodeToString(b)
}
