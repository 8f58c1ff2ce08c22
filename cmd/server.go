package main

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/blobstore"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/construct"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/server"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/telemetry"
)

var serverCmd = &cli.Command{
	Name:  "server",
	Usage: "HTTP server interface to the discovery service",
	Subcommands: []*cli.Command{
		{
			Name:  "start",
			Usage: "start a discovery service HTTP server",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:    "port",
					Aliases: []string{"p"},
					Value:   9000,
					Usage:   "port to bind the server to",
				},
				&cli.StringFlag{
					Name:    "management-url",
					EnvVars: []string{"EDC_MANAGEMENT_URL"},
					Usage:   "URL of the consumer connector's management API",
				},
				&cli.StringFlag{
					Name:    "management-api-key",
					EnvVars: []string{"EDC_MANAGEMENT_API_KEY"},
					Usage:   "API key for the management API",
				},
				&cli.StringFlag{
					Name:    "portal-url",
					EnvVars: []string{"PORTAL_URL"},
					Usage:   "URL of the portal used for connector discovery",
				},
				&cli.StringFlag{
					Name:    "discovery-finder-url",
					EnvVars: []string{"DISCOVERY_FINDER_URL"},
					Usage:   "URL of the Discovery Finder service",
				},
				&cli.StringFlag{
					Name:  "bpn-discovery-type",
					Value: "manufacturerPartId",
					Usage: "identifier type searched during BPN discovery",
				},
				&cli.IntFlag{
					Name:  "dtr-cache-expiration",
					Value: 60,
					Usage: "DTR cache shard TTL in minutes",
				},
				&cli.StringFlag{
					Name:    "redis-url",
					Aliases: []string{"redis"},
					EnvVars: []string{"REDIS_URL"},
					Usage:   "url for a running redis database (persists negotiated EDR connections)",
				},
				&cli.StringFlag{
					Name:    "redis-passwd",
					Aliases: []string{"rp"},
					EnvVars: []string{"REDIS_PASSWD"},
					Usage:   "passwd for redis",
				},
				&cli.StringFlag{
					Name:  "submodel-store-mode",
					Usage: "submodel blob store backend: filesystem, http or s3",
				},
				&cli.StringFlag{
					Name:  "submodel-store-path",
					Usage: "root directory of the filesystem blob store",
				},
				&cli.StringFlag{
					Name:  "submodel-store-url",
					Usage: "base URL of the HTTP blob store",
				},
				&cli.StringFlag{
					Name:  "submodel-store-api-path",
					Usage: "API path prefix of the HTTP blob store",
				},
				&cli.StringFlag{
					Name:  "submodel-store-auth-type",
					Usage: "HTTP blob store auth type: bearer or api-key",
				},
				&cli.StringFlag{
					Name:  "submodel-store-token",
					Usage: "HTTP blob store token, supports ${NAME} env substitution",
				},
				&cli.StringFlag{
					Name:  "submodel-store-key-name",
					Usage: "header name for api-key auth",
				},
				&cli.StringFlag{
					Name:  "submodel-store-bucket",
					Usage: "bucket of the S3 blob store",
				},
				&cli.StringFlag{
					Name:  "submodel-store-prefix",
					Usage: "key prefix of the S3 blob store",
				},
			},
			Action: func(cCtx *cli.Context) error {
				ctx := cCtx.Context

				shutdown, err := telemetry.SetupTelemetry(ctx)
				if err != nil {
					return fmt.Errorf("setting up telemetry: %w", err)
				}
				defer shutdown(ctx)

				sc := construct.ServiceConfig{
					ManagementURL:      cCtx.String("management-url"),
					ManagementAPIKey:   cCtx.String("management-api-key"),
					PortalURL:          cCtx.String("portal-url"),
					DiscoveryFinderURL: cCtx.String("discovery-finder-url"),
					BPNDiscoveryType:   cCtx.String("bpn-discovery-type"),
					DTRCacheExpiration: time.Duration(cCtx.Int("dtr-cache-expiration")) * time.Minute,
					SubmodelStoreMode:  cCtx.String("submodel-store-mode"),
					SubmodelStorePath:  cCtx.String("submodel-store-path"),
					SubmodelStoreHTTP: blobstore.HTTPConfig{
						BaseURL:     cCtx.String("submodel-store-url"),
						APIPath:     cCtx.String("submodel-store-api-path"),
						AuthEnabled: cCtx.IsSet("submodel-store-auth-type"),
						AuthType:    cCtx.String("submodel-store-auth-type"),
						Token:       cCtx.String("submodel-store-token"),
						KeyName:     cCtx.String("submodel-store-key-name"),
					},
					SubmodelStoreBucket: cCtx.String("submodel-store-bucket"),
					SubmodelStorePrefix: cCtx.String("submodel-store-prefix"),
				}
				if cCtx.IsSet("redis-url") {
					sc.EDRRedis = &redis.Options{
						Addr:     cCtx.String("redis-url"),
						Password: cCtx.String("redis-passwd"),
					}
				}

				service, err := construct.Construct(ctx, sc)
				if err != nil {
					return fmt.Errorf("constructing service: %w", err)
				}

				addr := fmt.Sprintf(":%d", cCtx.Int("port"))
				return server.ListenAndServe(addr, service.Engine, service.Workflow)
			},
		},
	},
}
