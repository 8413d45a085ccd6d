package backend

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/agentstudio/tunnel-proxy/pkg/cloudflare"
	"github.com/agentstudio/tunnel-proxy/pkg/db"
	"github.com/agentstudio/tunnel-proxy/pkg/model"
	"github.com/agentstudio/tunnel-proxy/pkg/rand"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultLocalPort is routed to when a create request omits the port.
	DefaultLocalPort = 4936

	// DefaultNamePrefix seeds auto-generated subdomain labels.
	DefaultNamePrefix = "agent"
)

type Backend interface {
	CreateSubdomain(ctx context.Context, input model.CreateRequest) (model.CreateResponse, error)
	CheckSubdomain(ctx context.Context, subdomain string) (model.CheckResponse, error)
	DeleteSubdomain(ctx context.Context, subdomain string) (model.DeleteResponse, error)
	ListSubdomains(statusFilter string, limit int) (model.ListResponse, error)
	GetSubdomain(subdomain string) (model.DetailResponse, error)
	StartSweeperDaemon(done <-chan struct{})
}

// Provider is the remote tunnel/DNS API surface the sagas drive.
// *cloudflare.Client is the production implementation.
type Provider interface {
	CreateTunnel(ctx context.Context, name, secret string) (cloudflare.Tunnel, error)
	DeleteTunnel(ctx context.Context, id string) error
	CreateDNSRecord(ctx context.Context, subdomain, tunnelID string) (cloudflare.DNSRecord, error)
	DeleteDNSRecord(ctx context.Context, id string) error
	RecordExists(ctx context.Context, subdomain string) bool
	ListDNSRecords(ctx context.Context, page int) ([]cloudflare.DNSRecord, bool, error)
	ConfigureRoute(ctx context.Context, tunnelID, hostname string, localPort int) (cloudflare.RouteConfig, error)
	Token(tunnelID, secret string) string
	Hostname(subdomain string) string
	ParentDomain() string
}

// ValidationError rejects malformed input before any remote call is made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

type backend struct {
	cf            Provider
	db            db.Database
	namePrefix    string
	sweepInterval time.Duration
}

func New(provider Provider, database db.Database, namePrefix string, sweepInterval time.Duration) (Backend, error) {
	if provider == nil || database == nil {
		return nil, fmt.Errorf("backend requires a provider and a database")
	}
	if namePrefix == "" {
		namePrefix = DefaultNamePrefix
	}

	return &backend{
		cf:            provider,
		db:            database,
		namePrefix:    namePrefix,
		sweepInterval: sweepInterval,
	}, nil
}

// RFC 1035 label: lowercase alphanumerics and inner hyphens, max 63 chars.
var subdomainRegexp = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

func validateCreate(input model.CreateRequest) error {
	if input.LocalPort < 1 || input.LocalPort > 65535 {
		return &ValidationError{Reason: fmt.Sprintf("localPort %d is out of range (1-65535)", input.LocalPort)}
	}
	if input.Subdomain != "" && !subdomainRegexp.MatchString(input.Subdomain) {
		return &ValidationError{Reason: fmt.Sprintf("subdomain %q is not a valid DNS label", input.Subdomain)}
	}

	return nil
}

// CreateSubdomain runs the create saga: resolve name, reserve it in the
// ledger, then tunnel -> DNS record -> ingress route -> token, and
// finalize the ledger row. Any remote failure rolls back what was created
// and releases the reservation; the caller always sees the original
// error, never a compensation error.
func (b *backend) CreateSubdomain(ctx context.Context, input model.CreateRequest) (model.CreateResponse, error) {
	if input.LocalPort == 0 {
		input.LocalPort = DefaultLocalPort
	}
	if err := validateCreate(input); err != nil {
		return model.CreateResponse{}, err
	}

	subdomain := input.Subdomain
	if subdomain == "" {
		subdomain = rand.Subdomain(b.namePrefix)
	}

	// Advisory upstream check, catches DNS records that exist in the zone
	// but are unknown to the ledger.
	if b.cf.RecordExists(ctx, subdomain) {
		return model.CreateResponse{}, fmt.Errorf("subdomain %q is %w", subdomain, db.ErrConflict)
	}

	if err := b.db.Reserve(subdomain); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return model.CreateResponse{}, fmt.Errorf("subdomain %q is %w", subdomain, db.ErrConflict)
		}
		return model.CreateResponse{}, err
	}

	// Past the reservation the saga runs to full success or full rollback.
	// A disconnecting caller must not strand half-provisioned resources.
	ctx = context.WithoutCancel(ctx)

	resp, err := b.provision(ctx, subdomain, input)
	if err != nil {
		if relErr := b.db.Release(subdomain); relErr != nil {
			logrus.WithError(relErr).WithField("subdomain", subdomain).Error("failed to release reservation")
		}
		return model.CreateResponse{}, err
	}

	return resp, nil
}

func (b *backend) provision(ctx context.Context, subdomain string, input model.CreateRequest) (model.CreateResponse, error) {
	log := logrus.WithField("subdomain", subdomain)

	tunnel, err := b.cf.CreateTunnel(ctx, subdomain, "")
	if err != nil {
		return model.CreateResponse{}, err
	}

	record, err := b.cf.CreateDNSRecord(ctx, subdomain, tunnel.ID)
	if err != nil {
		b.compensate(ctx, log, tunnel.ID, "")
		return model.CreateResponse{}, err
	}

	hostname := b.cf.Hostname(subdomain)
	if _, err := b.cf.ConfigureRoute(ctx, tunnel.ID, hostname, input.LocalPort); err != nil {
		b.compensate(ctx, log, tunnel.ID, record.ID)
		return model.CreateResponse{}, err
	}

	token := b.cf.Token(tunnel.ID, tunnel.Secret)

	row, err := b.db.Finalize(db.Tunnel{
		Subdomain:    subdomain,
		TunnelID:     tunnel.ID,
		TunnelName:   tunnel.Name,
		TunnelSecret: tunnel.Secret,
		DNSRecordID:  record.ID,
		PublicURL:    "https://" + hostname,
		LocalPort:    input.LocalPort,
		Description:  input.Description,
	})
	if err != nil {
		b.compensate(ctx, log, tunnel.ID, record.ID)
		return model.CreateResponse{}, err
	}

	log.WithFields(logrus.Fields{
		"tunnelId":    tunnel.ID,
		"dnsRecordId": record.ID,
		"localPort":   input.LocalPort,
	}).Info("subdomain provisioned")

	return model.CreateResponse{
		Success:     true,
		Subdomain:   subdomain,
		PublicURL:   row.PublicURL,
		TunnelID:    tunnel.ID,
		TunnelToken: token,
		CreatedAt:   row.CreatedAt.UTC().Format(time.RFC3339),
		Instructions: model.Instructions{
			CLI:    fmt.Sprintf("cloudflared tunnel run --token %s", token),
			Docker: fmt.Sprintf("docker run -d cloudflare/cloudflared:latest tunnel run --token %s", token),
		},
	}, nil
}

// compensate tears down remote resources after a failed create, DNS
// record first, then the tunnel. Failures here are logged only; the
// triggering error is what the caller sees.
func (b *backend) compensate(ctx context.Context, log *logrus.Entry, tunnelID, dnsRecordID string) {
	if dnsRecordID != "" {
		if err := b.cf.DeleteDNSRecord(ctx, dnsRecordID); err != nil {
			log.WithError(err).WithField("dnsRecordId", dnsRecordID).Warn("rollback: could not delete dns record")
		}
	}
	if err := b.cf.DeleteTunnel(ctx, tunnelID); err != nil {
		log.WithError(err).WithField("tunnelId", tunnelID).Warn("rollback: could not delete tunnel")
	}
}

// CheckSubdomain is a pure read combining ledger and upstream state.
func (b *backend) CheckSubdomain(ctx context.Context, subdomain string) (model.CheckResponse, error) {
	row, err := b.db.FindActive(subdomain)
	if err != nil {
		return model.CheckResponse{}, err
	}
	if row != nil {
		return model.CheckResponse{
			Subdomain: subdomain,
			Available: false,
			Message:   "Subdomain is already taken",
		}, nil
	}

	if b.cf.RecordExists(ctx, subdomain) {
		return model.CheckResponse{
			Subdomain: subdomain,
			Available: false,
			Message:   "Subdomain exists in DNS but not in the ledger (may be orphaned)",
		}, nil
	}

	return model.CheckResponse{
		Subdomain: subdomain,
		Available: true,
		Message:   "Subdomain is available",
	}, nil
}

// DeleteSubdomain runs the delete saga. Remote cleanup is best effort and
// never blocks the local soft delete: an orphaned remote resource is
// recoverable by the sweeper, a stuck local record is not. Partial is set
// when some remote resource could not be removed.
func (b *backend) DeleteSubdomain(ctx context.Context, subdomain string) (model.DeleteResponse, error) {
	row, err := b.db.FindActive(subdomain)
	if err != nil {
		return model.DeleteResponse{}, err
	}
	if row == nil {
		return model.DeleteResponse{}, fmt.Errorf("subdomain %q %w", subdomain, db.ErrNotFound)
	}

	ctx = context.WithoutCancel(ctx)
	log := logrus.WithField("subdomain", subdomain)
	partial := false

	if row.DNSRecordID != "" {
		if err := b.cf.DeleteDNSRecord(ctx, row.DNSRecordID); err != nil {
			log.WithError(err).WithField("dnsRecordId", row.DNSRecordID).Warn("could not delete dns record, continuing")
			partial = true
		}
	}

	if err := b.cf.DeleteTunnel(ctx, row.TunnelID); err != nil {
		log.WithError(err).WithField("tunnelId", row.TunnelID).Warn("could not delete tunnel, continuing")
		partial = true
	}

	if _, err := b.db.SoftDelete(subdomain); err != nil {
		return model.DeleteResponse{}, err
	}

	msg := fmt.Sprintf("Subdomain %q deleted successfully", subdomain)
	if partial {
		msg = fmt.Sprintf("Subdomain %q deleted locally, but some remote resources could not be removed", subdomain)
	}
	log.Info(msg)

	return model.DeleteResponse{
		Success: !partial,
		Partial: partial,
		Message: msg,
	}, nil
}

func (b *backend) ListSubdomains(statusFilter string, limit int) (model.ListResponse, error) {
	rows, err := b.db.List(statusFilter, limit)
	if err != nil {
		return model.ListResponse{}, err
	}

	out := model.ListResponse{
		Success:    true,
		Subdomains: make([]model.SubdomainSummary, 0, len(rows)),
	}
	for _, row := range rows {
		out.Subdomains = append(out.Subdomains, model.SubdomainSummary{
			Subdomain: row.Subdomain,
			PublicURL: row.PublicURL,
			TunnelID:  row.TunnelID,
			CreatedAt: row.CreatedAt.UTC().Format(time.RFC3339),
			Status:    row.Status,
		})
	}

	return out, nil
}

func (b *backend) GetSubdomain(subdomain string) (model.DetailResponse, error) {
	row, err := b.db.Find(subdomain)
	if err != nil {
		return model.DetailResponse{}, err
	}
	if row == nil {
		return model.DetailResponse{}, fmt.Errorf("subdomain %q %w", subdomain, db.ErrNotFound)
	}

	return model.DetailResponse{
		Success: true,
		Subdomain: model.SubdomainDetail{
			ID:          row.ID,
			Subdomain:   row.Subdomain,
			TunnelID:    row.TunnelID,
			TunnelName:  row.TunnelName,
			DNSRecordID: row.DNSRecordID,
			PublicURL:   row.PublicURL,
			LocalPort:   row.LocalPort,
			Description: row.Description,
			Status:      row.Status,
			CreatedAt:   row.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:   row.UpdatedAt.UTC().Format(time.RFC3339),
		},
	}, nil
}
