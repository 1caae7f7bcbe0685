package flags

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/identity-custody-backend/cryptoutils"
	"github.com/ruteri/identity-custody-backend/interfaces"
	"github.com/ruteri/identity-custody-backend/kms"
	"github.com/ruteri/identity-custody-backend/rks"
	"github.com/urfave/cli/v2"
)

const (
	RKSTypeAWSKMS         = "aws-kms"
	RKSTypeVaultTransit   = "vault-transit"
	RKSTypeLocalMasterKey = "local-master-key"
	RKSTypeMemory         = "memory"
)

var RKSTypeFlag = &cli.StringFlag{
	Name:    "rks-type",
	Value:   RKSTypeMemory,
	Usage:   "root key service: 'aws-kms', 'vault-transit', 'local-master-key' or 'memory' (development only)",
	EnvVars: []string{"RKS_TYPE"},
}
var RootKeyPrefixFlag = &cli.StringFlag{
	Name:    "root-key-prefix",
	Value:   "alias/identity-custody",
	Usage:   "root key alias prefix, keys are probed as <prefix>-1 .. <prefix>-<pool size>",
	EnvVars: []string{"ROOT_KEY_PREFIX"},
}
var KeyPoolSizeFlag = &cli.IntFlag{
	Name:    "key-pool-size",
	Value:   3,
	Usage:   "number of root key aliases to probe",
	EnvVars: []string{"KEY_POOL_SIZE"},
}
var RotationEnabledFlag = &cli.BoolFlag{
	Name:    "key-rotation-enabled",
	Usage:   "report automatic root key rotation as enabled",
	EnvVars: []string{"KEY_ROTATION_ENABLED"},
}
var RotationIntervalFlag = &cli.IntFlag{
	Name:    "key-rotation-interval-months",
	Value:   12,
	Usage:   "root key rotation interval reported to the rotation job",
	EnvVars: []string{"KEY_ROTATION_INTERVAL_MONTHS"},
}

var AWSRegionFlag = &cli.StringFlag{
	Name:    "aws-region",
	Value:   "us-east-1",
	EnvVars: []string{"AWS_REGION"},
}
var AWSEndpointFlag = &cli.StringFlag{
	Name:    "aws-kms-endpoint",
	Usage:   "custom KMS endpoint, e.g. for localstack",
	EnvVars: []string{"AWS_KMS_ENDPOINT"},
}
var AWSAccessKeyFlag = &cli.StringFlag{
	Name:    "aws-access-key",
	Usage:   "static access key, the default credential chain is used when empty",
	EnvVars: []string{"AWS_ACCESS_KEY_ID"},
}
var AWSSecretKeyFlag = &cli.StringFlag{
	Name:    "aws-secret-key",
	EnvVars: []string{"AWS_SECRET_ACCESS_KEY"},
}

var VaultAddrFlag = &cli.StringFlag{
	Name:    "vault-addr",
	Value:   "http://127.0.0.1:8200",
	EnvVars: []string{"VAULT_ADDR"},
}
var VaultTokenFlag = &cli.StringFlag{
	Name:    "vault-token",
	EnvVars: []string{"VAULT_TOKEN"},
}
var VaultTransitMountFlag = &cli.StringFlag{
	Name:    "vault-transit-mount",
	Value:   "transit",
	EnvVars: []string{"VAULT_TRANSIT_MOUNT"},
}

var MasterKeyFlag = &cli.StringFlag{
	Name:    "master-key",
	Usage:   "hex-encoded local master key (at least 32 bytes)",
	EnvVars: []string{"MASTER_KEY"},
}
var MasterKeySharesFlag = &cli.StringSliceFlag{
	Name:    "master-key-share",
	Usage:   "hex-encoded Shamir share of the local master key, repeat up to the threshold",
	EnvVars: []string{"MASTER_KEY_SHARES"},
}

var RootKeyFlags = []cli.Flag{
	RKSTypeFlag,
	RootKeyPrefixFlag,
	KeyPoolSizeFlag,
	RotationEnabledFlag,
	RotationIntervalFlag,
	AWSRegionFlag,
	AWSEndpointFlag,
	AWSAccessKeyFlag,
	AWSSecretKeyFlag,
	VaultAddrFlag,
	VaultTokenFlag,
	VaultTransitMountFlag,
	MasterKeyFlag,
	MasterKeySharesFlag,
}

func KeyPoolConfig(cCtx *cli.Context) kms.KeyPoolConfig {
	return kms.KeyPoolConfig{
		AliasPrefix: cCtx.String(RootKeyPrefixFlag.Name),
		Size:        cCtx.Int(KeyPoolSizeFlag.Name),
		Rotation: interfaces.RotationPolicy{
			Enabled:        cCtx.Bool(RotationEnabledFlag.Name),
			IntervalMonths: cCtx.Int(RotationIntervalFlag.Name),
		},
	}
}

// RootKeyServices returns the primary root key service selected by --rks-type and
// the secondary services able to unwrap DEKs written by another strategy.
// A configured local master key is always usable as a secondary.
func RootKeyServices(cCtx *cli.Context, log *slog.Logger) (interfaces.RootKeyService, []interfaces.RootKeyService, error) {
	local, err := localMasterKey(cCtx)
	if err != nil {
		return nil, nil, err
	}

	var primary interfaces.RootKeyService
	switch rksType := cCtx.String(RKSTypeFlag.Name); rksType {
	case RKSTypeAWSKMS:
		primary, err = rks.NewAWSKMS(rks.AWSKMSConfig{
			Region:    cCtx.String(AWSRegionFlag.Name),
			Endpoint:  cCtx.String(AWSEndpointFlag.Name),
			AccessKey: cCtx.String(AWSAccessKeyFlag.Name),
			SecretKey: cCtx.String(AWSSecretKeyFlag.Name),
		}, log)
	case RKSTypeVaultTransit:
		primary, err = rks.NewVaultTransit(
			cCtx.String(VaultAddrFlag.Name),
			cCtx.String(VaultTokenFlag.Name),
			cCtx.String(VaultTransitMountFlag.Name),
			log)
	case RKSTypeLocalMasterKey:
		if local == nil {
			return nil, nil, errors.New("--master-key or --master-key-share is required for the local-master-key root key service")
		}
		return local, nil, nil
	case RKSTypeMemory:
		log.Warn("Using in-memory root keys, wrapped secrets will not survive a restart")
		primary, err = memoryRootKeys(KeyPoolConfig(cCtx))
	default:
		return nil, nil, fmt.Errorf("invalid rks-type: %s", rksType)
	}
	if err != nil {
		return nil, nil, err
	}

	var secondaries []interfaces.RootKeyService
	if local != nil {
		secondaries = append(secondaries, local)
	}
	return primary, secondaries, nil
}

func memoryRootKeys(cfg kms.KeyPoolConfig) (*rks.Memory, error) {
	ids := make([]string, 0, cfg.Size)
	for n := 1; n <= cfg.Size; n++ {
		ids = append(ids, kms.RootKeyAlias(cfg.AliasPrefix, n))
	}
	return rks.NewMemory(ids...)
}

func localMasterKey(cCtx *cli.Context) (*rks.LocalMasterKey, error) {
	if masterKeyHex := cCtx.String(MasterKeyFlag.Name); masterKeyHex != "" {
		masterKey, err := hex.DecodeString(strings.TrimPrefix(masterKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid master key: %w", err)
		}
		return rks.NewLocalMasterKey(masterKey)
	}

	shareHexes := cCtx.StringSlice(MasterKeySharesFlag.Name)
	if len(shareHexes) == 0 {
		return nil, nil
	}

	shares := make([][]byte, 0, len(shareHexes))
	for i, s := range shareHexes {
		share, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid master key share %d: %w", i, err)
		}
		shares = append(shares, share)
	}

	masterKey, err := kms.MasterKeyFromShares(shares)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(masterKey)
	return rks.NewLocalMasterKey(masterKey)
}
