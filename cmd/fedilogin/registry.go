package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/haileyok/fedi-oauth-golang/mastodon"
	"github.com/urfave/cli/v2"
)

var registryCmd = &cli.Command{
	Name:  "registry",
	Usage: "inspect stored mastodon client registrations",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "list every instance this app is registered with",
			Action: func(cctx *cli.Context) error {
				store, err := openRegistryStore(cctx)
				if err != nil {
					return err
				}

				entries, err := store.List(cctx.Context)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "INSTANCE\tCLIENT ID\tSCOPE\tREDIRECT URI")
				for _, instance := range mastodon.SortedInstances(entries) {
					info := entries[instance]
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", instance, info.ClientID, info.Scope, info.RedirectURI)
				}

				return w.Flush()
			},
		},
	},
}
