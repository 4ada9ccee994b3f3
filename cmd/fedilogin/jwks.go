package main

import (
	"encoding/json"
	"os"

	oauth "github.com/haileyok/fedi-oauth-golang"
	"github.com/urfave/cli/v2"
)

var generateJwksCmd = &cli.Command{
	Name:  "generate-jwks",
	Usage: "write a new ES256 private key, and optionally the public jwks to publish",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "prefix",
			Required: false,
		},
		&cli.StringFlag{
			Name:  "out",
			Value: "./jwks.json",
		},
		&cli.StringFlag{
			Name:  "public-out",
			Usage: "also write the public key set here",
		},
	},
	Action: func(cctx *cli.Context) error {
		var prefix *string
		if cctx.String("prefix") != "" {
			inputPrefix := cctx.String("prefix")
			prefix = &inputPrefix
		}

		key, err := oauth.GenerateKey(prefix)
		if err != nil {
			return err
		}

		b, err := json.Marshal(key)
		if err != nil {
			return err
		}

		if err := os.WriteFile(cctx.String("out"), b, 0600); err != nil {
			return err
		}

		if out := cctx.String("public-out"); out != "" {
			jwks, err := oauth.CreateJwksResponseObject(key)
			if err != nil {
				return err
			}

			b, err := json.MarshalIndent(jwks, "", "  ")
			if err != nil {
				return err
			}

			if err := os.WriteFile(out, b, 0644); err != nil {
				return err
			}
		}

		return nil
	},
}
