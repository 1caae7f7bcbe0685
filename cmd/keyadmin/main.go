package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ruteri/identity-custody-backend/cmd/flags"
	"github.com/ruteri/identity-custody-backend/cryptoutils"
	"github.com/ruteri/identity-custody-backend/kms"
	"github.com/urfave/cli/v2"
)

var flagMasterKey *cli.StringFlag = &cli.StringFlag{
	Name:  "master-key",
	Usage: "hex-encoded master key to split, a fresh 32-byte key is generated when empty",
}

var flagShares *cli.IntFlag = &cli.IntFlag{
	Name:  "shares",
	Value: 5,
}

var flagThreshold *cli.IntFlag = &cli.IntFlag{
	Name:  "threshold",
	Value: 3,
}

var flagShare *cli.StringSliceFlag = &cli.StringSliceFlag{
	Name:     "share",
	Required: true,
	Usage:    "hex-encoded share, repeat up to the threshold",
}

func main() {
	app := &cli.App{
		Name:  "keyadmin",
		Usage: "Manage the local master key and inspect the root key pool",
		Flags: flags.LogFlags,
		Commands: []*cli.Command{
			{
				Name:  "split",
				Usage: "split a local master key into Shamir shares, one hex share per line",
				Flags: []cli.Flag{flagMasterKey, flagShares, flagThreshold},
				Action: func(cCtx *cli.Context) error {
					var masterKey []byte
					if keyHex := cCtx.String(flagMasterKey.Name); keyHex != "" {
						var err error
						masterKey, err = hex.DecodeString(strings.TrimPrefix(keyHex, "0x"))
						if err != nil {
							return fmt.Errorf("invalid master key: %w", err)
						}
					} else {
						masterKey = make([]byte, kms.MinMasterKeySize)
						if _, err := rand.Read(masterKey); err != nil {
							return err
						}
					}
					defer cryptoutils.Zero(masterKey)

					shares, err := kms.SplitMasterKey(masterKey, cCtx.Int(flagShares.Name), cCtx.Int(flagThreshold.Name))
					if err != nil {
						return err
					}
					for _, share := range shares {
						fmt.Println(hex.EncodeToString(share))
					}
					return nil
				},
			},
			{
				Name:  "combine",
				Usage: "reconstruct the local master key from shares and print it hex-encoded",
				Flags: []cli.Flag{flagShare},
				Action: func(cCtx *cli.Context) error {
					var shares [][]byte
					for i, s := range cCtx.StringSlice(flagShare.Name) {
						share, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
						if err != nil {
							return fmt.Errorf("invalid share %d: %w", i, err)
						}
						shares = append(shares, share)
					}

					masterKey, err := kms.MasterKeyFromShares(shares)
					if err != nil {
						return err
					}
					defer cryptoutils.Zero(masterKey)

					fmt.Println(hex.EncodeToString(masterKey))
					return nil
				},
			},
			{
				Name:  "probe-pool",
				Usage: "probe the root key aliases and print the pool as JSON",
				Flags: flags.RootKeyFlags,
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)

					primary, _, err := flags.RootKeyServices(cCtx, logger)
					if err != nil {
						return err
					}

					poolCfg := flags.KeyPoolConfig(cCtx)
					pool := kms.NewKeyPool(primary, poolCfg, logger)
					if err := pool.Initialize(cCtx.Context, poolCfg.Size); err != nil {
						return err
					}

					out := struct {
						Strategy string `json:"strategy"`
						Entries  any    `json:"entries"`
						Rotation any    `json:"rotation"`
					}{
						Strategy: primary.Name(),
						Entries:  pool.Entries(),
						Rotation: pool.RotationPolicy(),
					}

					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(out)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
