package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentstudio/tunnel-proxy/pkg/apiserver"
	"github.com/agentstudio/tunnel-proxy/pkg/backend"
	"github.com/agentstudio/tunnel-proxy/pkg/cloudflare"
	"github.com/agentstudio/tunnel-proxy/pkg/db"
	"github.com/agentstudio/tunnel-proxy/pkg/version"
	"github.com/rancher/wrangler/pkg/signals"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

type apiServerCommand struct{}

func (s *apiServerCommand) Execute(c *cli.Context) error {
	ctx := signals.SetupSignalContext()

	log := logrus.WithField("command", "api-server")

	log.Infof("version: %v", version.Get())

	database, err := db.New(ctx, c.String("sql-dialect"), c.String("sql-dsn"), nil)
	if err != nil {
		return err
	}

	cf, err := cloudflare.New(cloudflare.Config{
		APIToken:     c.String("cf-api-token"),
		AccountID:    c.String("cf-account-id"),
		ZoneID:       c.String("cf-zone-id"),
		ParentDomain: c.String("parent-domain"),
		Timeout:      time.Duration(c.Int64("cf-timeout-seconds")) * time.Second,
	})
	if err != nil {
		return err
	}

	back, err := backend.New(cf, database, c.String("name-prefix"),
		time.Duration(c.Int64("sweep-interval-seconds"))*time.Second)
	if err != nil {
		return err
	}

	apiKeys := splitKeys(c.String("api-keys"))
	if len(apiKeys) == 0 {
		return fmt.Errorf("at least one API key must be configured via --api-keys")
	}

	srv := apiserver.NewAPIServer(ctx, log, c.Int("port"))

	return srv.Start(back, apiKeys)
}

func splitKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func serverCommand() *cli.Command {
	cmd := apiServerCommand{}

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Usage:   "Port for the HTTP Server",
			EnvVars: []string{"TUNNEL_PROXY_PORT", "PORT"},
			Value:   8000,
		},
		&cli.StringFlag{
			Name:    "sql-dialect",
			Usage:   "The type of sql to use, sqlite or mysql",
			EnvVars: []string{"SQL_DIALECT"},
			Value:   "sqlite",
		},
		&cli.StringFlag{
			Name:    "sql-dsn",
			Usage:   "The DSN to use to connect to",
			EnvVars: []string{"SQL_DSN"},
			Value:   "file:tunnelproxy.sqlite",
		},
		&cli.StringFlag{
			Name:     "cf-api-token",
			Usage:    "Cloudflare API token",
			EnvVars:  []string{"CLOUDFLARE_API_TOKEN"},
			Required: true,
		},
		&cli.StringFlag{
			Name:     "cf-account-id",
			Usage:    "Cloudflare account ID",
			EnvVars:  []string{"CLOUDFLARE_ACCOUNT_ID"},
			Required: true,
		},
		&cli.StringFlag{
			Name:     "cf-zone-id",
			Usage:    "Cloudflare zone ID for the parent domain",
			EnvVars:  []string{"CLOUDFLARE_ZONE_ID"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "parent-domain",
			Usage:   "Parent domain subdomains are published under",
			EnvVars: []string{"PARENT_DOMAIN"},
			Value:   "agentstudio.cc",
		},
		&cli.Int64Flag{
			Name:    "cf-timeout-seconds",
			Usage:   "Per-call timeout for Cloudflare API requests",
			EnvVars: []string{"CLOUDFLARE_TIMEOUT_SECONDS"},
			Value:   30,
		},
		&cli.StringFlag{
			Name:     "api-keys",
			Usage:    "Comma-separated API keys accepted in the X-API-Key header",
			EnvVars:  []string{"API_KEYS"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "name-prefix",
			Usage:   "Prefix for auto-generated subdomain names",
			EnvVars: []string{"NAME_PREFIX"},
			Value:   backend.DefaultNamePrefix,
		},
		&cli.Int64Flag{
			Name:    "sweep-interval-seconds",
			Usage:   "How often to sweep orphaned dns records, 0 disables",
			EnvVars: []string{"SWEEP_INTERVAL_SECONDS"},
			Value:   3600,
		},
	}

	return &cli.Command{
		Name:   "api-server",
		Usage:  "tunnel proxy api server",
		Action: cmd.Execute,
		Flags:  append(flags, GlobalFlags()...),
		Before: Before,
	}
}
