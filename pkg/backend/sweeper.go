package backend

import (
	"context"
	"strings"
	"time"

	"github.com/agentstudio/tunnel-proxy/pkg/cloudflare"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"k8s.io/apimachinery/pkg/util/wait"
)

const sweepTimeout = 2 * time.Minute

// StartSweeperDaemon periodically deletes tunnel CNAMEs from the zone that
// no pending or active ledger row claims. This is the reconciliation path
// for remote resources orphaned by failed cleanup.
func (b *backend) StartSweeperDaemon(done <-chan struct{}) {
	if b.sweepInterval <= 0 {
		logrus.Info("orphan sweeper disabled")
		return
	}

	logrus.Infof("starting orphan sweeper. Sweep interval: %v", b.sweepInterval)
	wait.JitterUntil(b.sweep, b.sweepInterval, .002, true, done)
}

func (b *backend) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	parentSuffix := "." + b.cf.ParentDomain()

	// Collect every tunnel-target CNAME directly under the parent domain.
	candidates := make(map[string]cloudflare.DNSRecord)
	for page := 1; ; page++ {
		records, more, err := b.cf.ListDNSRecords(ctx, page)
		if err != nil {
			logrus.Errorf("sweep: could not list dns records: %v", err)
			return
		}

		pageCandidates := make(map[string]cloudflare.DNSRecord)
		for _, rec := range records {
			if !strings.HasSuffix(rec.Content, "."+cloudflare.TunnelRoutingSuffix) {
				continue
			}
			if !strings.HasSuffix(rec.Name, parentSuffix) {
				continue
			}
			subdomain := strings.TrimSuffix(rec.Name, parentSuffix)
			if subdomain == "" || strings.Contains(subdomain, ".") {
				// only first-level labels are ours
				continue
			}
			pageCandidates[subdomain] = rec
		}
		maps.Copy(candidates, pageCandidates)

		if !more {
			break
		}
	}

	// The ledger snapshot is taken after listing: any record visible above
	// already had its reservation row by the time we query, so an
	// in-flight create can never look like an orphan.
	live, err := b.db.LiveSubdomains()
	if err != nil {
		logrus.Errorf("sweep: could not load ledger subdomains: %v", err)
		return
	}

	deleted := 0
	for subdomain, rec := range candidates {
		if live[subdomain] {
			continue
		}
		if err := b.cf.DeleteDNSRecord(ctx, rec.ID); err != nil {
			logrus.Errorf("sweep: could not delete orphaned record %v: %v", rec.Name, err)
			continue
		}
		logrus.WithFields(logrus.Fields{
			"subdomain":   subdomain,
			"dnsRecordId": rec.ID,
		}).Info("sweep: deleted orphaned dns record")
		deleted++
	}

	logrus.Infof("sweep: orphaned dns records deleted: %v", deleted)
}
