package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/client"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/dpp"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

var discoverCmd = &cli.Command{
	Name:  "discover",
	Usage: "query a running discovery service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "url",
			Aliases: []string{"u"},
			Value:   "http://localhost:9000",
			Usage:   "URL of the discovery service",
		},
	},
	Subcommands: []*cli.Command{
		{
			Name:      "registries",
			Usage:     "list the digital twin registries of a business partner",
			ArgsUsage: "<bpn>",
			Action: func(cCtx *cli.Context) error {
				c := client.New(cCtx.String("url"))
				dtrs, err := c.DiscoverRegistries(cCtx.Context, cCtx.Args().First())
				if err != nil {
					return err
				}
				return printJSON(dtrs)
			},
		},
		{
			Name:      "shells",
			Usage:     "look up shells by asset link",
			ArgsUsage: "<bpn> <name=value> [name=value ...]",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "limit",
					Usage: "page size (enables pagination)",
				},
				&cli.StringFlag{
					Name:  "cursor",
					Usage: "pagination cursor from a previous response",
				},
			},
			Action: func(cCtx *cli.Context) error {
				args := cCtx.Args().Slice()
				if len(args) < 2 {
					return fmt.Errorf("usage: shells <bpn> <name=value> [name=value ...]")
				}
				querySpec := types.QuerySpec{}
				for _, arg := range args[1:] {
					name, value, found := strings.Cut(arg, "=")
					if !found {
						return fmt.Errorf("invalid query entry %q, expected name=value", arg)
					}
					querySpec = append(querySpec, types.QuerySpecEntry{Name: name, Value: value})
				}

				var limit *int
				if cCtx.IsSet("limit") {
					l := cCtx.Int("limit")
					limit = &l
				}
				c := client.New(cCtx.String("url"))
				result, err := c.DiscoverShells(cCtx.Context, args[0], querySpec, limit, cCtx.String("cursor"))
				if err != nil {
					return err
				}
				return printJSON(result)
			},
		},
		{
			Name:      "dpp",
			Usage:     "run an asynchronous DPP discovery and wait for the result",
			ArgsUsage: "<product-id> <semantic-id>",
			Flags: []cli.Flag{
				&cli.DurationFlag{
					Name:  "poll-interval",
					Value: 2 * time.Second,
					Usage: "task status poll cadence",
				},
			},
			Action: func(cCtx *cli.Context) error {
				args := cCtx.Args().Slice()
				if len(args) != 2 {
					return fmt.Errorf("usage: dpp <product-id> <semantic-id>")
				}
				c := client.New(cCtx.String("url"))
				taskID, err := c.StartDPPDiscovery(cCtx.Context, dpp.Request{ID: args[0], SemanticID: args[1]})
				if err != nil {
					return err
				}
				log.Infof("task %s accepted", taskID)

				for {
					snapshot, err := c.TaskStatus(cCtx.Context, taskID)
					if err != nil {
						return err
					}
					log.Infof("%s (%d%%) %s", snapshot.Step, snapshot.Progress, snapshot.Message)
					if snapshot.Status != dpp.StatusInProgress {
						return printJSON(snapshot)
					}
					time.Sleep(cCtx.Duration("poll-interval"))
				}
			},
		},
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
