package cloudflare

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		APIToken:     "test-token",
		AccountID:    "acct-1",
		ZoneID:       "zone-1",
		ParentDomain: "example.test",
		BaseURL:      srv.URL,
	})
	require.NoError(t, err)

	return c
}

func respond(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(Config{APIToken: "t"})
	assert.Error(t, err)
}

func TestCreateTunnel(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		respond(w, 200, `{"success": true, "result": {"id": "tun-1", "name": "demo", "created_at": "2024-01-01T00:00:00Z"}}`)
	})

	tunnel, err := c.CreateTunnel(context.Background(), "demo", "")
	require.NoError(t, err)

	assert.Equal(t, "POST /accounts/acct-1/cfd_tunnel", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "demo", gotBody["name"])
	assert.Equal(t, "cloudflare", gotBody["config_src"])

	assert.Equal(t, "tun-1", tunnel.ID)
	assert.Equal(t, "demo", tunnel.Name)
	assert.Equal(t, "2024-01-01T00:00:00Z", tunnel.CreatedAt)

	// secret is generated when not supplied, and sent upstream
	assert.Len(t, tunnel.Secret, 32)
	assert.Equal(t, tunnel.Secret, gotBody["tunnel_secret"])
}

func TestCreateTunnelKeepsSuppliedSecret(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, `{"success": true, "result": {"id": "tun-1", "name": "demo"}}`)
	})

	tunnel, err := c.CreateTunnel(context.Background(), "demo", "my-secret")
	require.NoError(t, err)
	assert.Equal(t, "my-secret", tunnel.Secret)
}

func TestUpstreamErrorPreservesMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		respond(w, 400, `{"success": false, "result": null, "errors": [{"message": "tunnel name already exists"}]}`)
	})

	_, err := c.CreateTunnel(context.Background(), "demo", "")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "tunnel name already exists", apiErr.Message)
	assert.Equal(t, 400, apiErr.Status)
}

func TestSuccessFalseIsAnErrorEvenOn200(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, `{"success": false, "errors": [{"message": "quota exceeded"}]}`)
	})

	err := c.DeleteTunnel(context.Background(), "tun-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "quota exceeded", apiErr.Message)
}

func TestDeleteTunnel(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		respond(w, 200, `{"success": true, "result": null}`)
	})

	require.NoError(t, c.DeleteTunnel(context.Background(), "tun-1"))
	assert.Equal(t, "DELETE /accounts/acct-1/cfd_tunnel/tun-1", gotPath)
}

func TestCreateDNSRecord(t *testing.T) {
	var gotBody map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/zones/zone-1/dns_records", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		respond(w, 200, `{"success": true, "result": {"id": "rec-1", "name": "demo.example.test", "content": "tun-1.cfargotunnel.com", "proxied": true}}`)
	})

	record, err := c.CreateDNSRecord(context.Background(), "demo", "tun-1")
	require.NoError(t, err)

	assert.Equal(t, "CNAME", gotBody["type"])
	assert.Equal(t, "demo", gotBody["name"])
	assert.Equal(t, "tun-1.cfargotunnel.com", gotBody["content"])
	assert.Equal(t, float64(1), gotBody["ttl"])
	assert.Equal(t, true, gotBody["proxied"])

	assert.Equal(t, "rec-1", record.ID)
	assert.True(t, record.Proxied)
}

func TestRecordExists(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "CNAME", r.URL.Query().Get("type"))
		assert.Equal(t, "demo.example.test", r.URL.Query().Get("name"))
		respond(w, 200, `{"success": true, "result": [{"id": "rec-1", "name": "demo.example.test"}]}`)
	})

	assert.True(t, c.RecordExists(context.Background(), "demo"))
}

func TestRecordExistsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, `{"success": true, "result": []}`)
	})

	assert.False(t, c.RecordExists(context.Background(), "demo"))
}

func TestRecordExistsAdvisoryOnFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		respond(w, 500, `{"success": false, "errors": [{"message": "boom"}]}`)
	})

	// a failing query reports "does not exist" instead of an error
	assert.False(t, c.RecordExists(context.Background(), "demo"))
}

func TestListDNSRecordsPaging(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		respond(w, 200, fmt.Sprintf(
			`{"success": true, "result": [{"id": "rec-%s"}], "result_info": {"page": %s, "total_pages": 2}}`,
			page, page))
	})

	records, more, err := c.ListDNSRecords(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, more)
	require.Len(t, records, 1)
	assert.Equal(t, "rec-1", records[0].ID)

	_, more, err = c.ListDNSRecords(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, more)
}

func TestConfigureRoute(t *testing.T) {
	var gotBody struct {
		Config RouteConfig `json:"config"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PUT", r.Method)
		assert.Equal(t, "/accounts/acct-1/cfd_tunnel/tun-1/configurations", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		respond(w, 200, `{"success": true, "result": {"tunnel_id": "tun-1", "version": 1}}`)
	})

	cfg, err := c.ConfigureRoute(context.Background(), "tun-1", "demo.example.test", 8080)
	require.NoError(t, err)

	require.Len(t, gotBody.Config.Ingress, 2)
	assert.Equal(t, "demo.example.test", gotBody.Config.Ingress[0].Hostname)
	assert.Equal(t, "http://localhost:8080", gotBody.Config.Ingress[0].Service)
	require.NotNil(t, gotBody.Config.Ingress[0].OriginRequest)
	assert.True(t, gotBody.Config.Ingress[0].OriginRequest.NoTLSVerify)

	// the catch-all rule is always last
	last := gotBody.Config.Ingress[len(gotBody.Config.Ingress)-1]
	assert.Empty(t, last.Hostname)
	assert.Equal(t, "http_status:404", last.Service)

	assert.Equal(t, gotBody.Config, cfg)
}

func TestTokenRoundTrip(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	token := c.Token("tun-1", "s3cret")

	raw, err := base64.StdEncoding.DecodeString(token)
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, map[string]string{
		"a": "acct-1",
		"t": "tun-1",
		"s": "s3cret",
	}, decoded)
}

func TestHostname(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	assert.Equal(t, "demo.example.test", c.Hostname("demo"))
	assert.Equal(t, "example.test", c.ParentDomain())
}
