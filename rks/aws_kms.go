package rks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"
	"github.com/aws/aws-sdk-go/service/kms/kmsiface"
	"github.com/ruteri/identity-custody-backend/interfaces"
)

// AWSKMS is a root key service backed by AWS KMS. Root key ids are key ids, ARNs or aliases.
type AWSKMS struct {
	client kmsiface.KMSAPI
	log    *slog.Logger
}

// AWSKMSConfig configures the AWS KMS client.
// Static credentials are optional; without them the default credential chain is used.
type AWSKMSConfig struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewAWSKMS creates a KMS client session for the configured region.
func NewAWSKMS(cfg AWSKMSConfig, log *slog.Logger) (*AWSKMS, error) {
	awsCfg := aws.Config{
		Region: aws.String(cfg.Region),
	}

	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewAWSKMSWithClient(kms.New(sess), log), nil
}

// NewAWSKMSWithClient wraps an existing KMS API client.
func NewAWSKMSWithClient(client kmsiface.KMSAPI, log *slog.Logger) *AWSKMS {
	return &AWSKMS{client: client, log: log}
}

func (k *AWSKMS) Name() string { return "aws-kms" }

func (k *AWSKMS) Encrypt(ctx context.Context, rootKeyID string, plaintext []byte) ([]byte, error) {
	start := time.Now()
	out, err := k.client.EncryptWithContext(ctx, &kms.EncryptInput{
		KeyId:     aws.String(rootKeyID),
		Plaintext: plaintext,
	})
	if err != nil {
		k.log.Warn("KMS encrypt failed", "rootKeyId", rootKeyID, "err", err, "duration", time.Since(start))
		return nil, classifyAWSError(err)
	}
	if len(out.CiphertextBlob) == 0 {
		return nil, interfaces.ErrEmptyResult
	}

	k.log.Debug("KMS encrypt successful",
		slog.String("rootKeyId", rootKeyID),
		slog.Int("ciphertext_len", len(out.CiphertextBlob)),
		slog.Duration("duration", time.Since(start)))
	return out.CiphertextBlob, nil
}

func (k *AWSKMS) Decrypt(ctx context.Context, rootKeyID string, ciphertext []byte) ([]byte, error) {
	start := time.Now()
	out, err := k.client.DecryptWithContext(ctx, &kms.DecryptInput{
		KeyId:          aws.String(rootKeyID),
		CiphertextBlob: ciphertext,
	})
	if err != nil {
		k.log.Warn("KMS decrypt failed", "rootKeyId", rootKeyID, "err", err, "duration", time.Since(start))
		return nil, classifyAWSError(err)
	}
	if len(out.Plaintext) == 0 {
		return nil, interfaces.ErrEmptyResult
	}

	k.log.Debug("KMS decrypt successful",
		slog.String("rootKeyId", rootKeyID),
		slog.Duration("duration", time.Since(start)))
	return out.Plaintext, nil
}

func (k *AWSKMS) DescribeKey(ctx context.Context, rootKeyID string) (interfaces.RootKeyMetadata, error) {
	out, err := k.client.DescribeKeyWithContext(ctx, &kms.DescribeKeyInput{
		KeyId: aws.String(rootKeyID),
	})
	if err != nil {
		return interfaces.RootKeyMetadata{}, classifyAWSError(err)
	}
	if out.KeyMetadata == nil {
		return interfaces.RootKeyMetadata{}, interfaces.ErrEmptyResult
	}

	state := interfaces.RootKeyDisabled
	if aws.BoolValue(out.KeyMetadata.Enabled) && aws.StringValue(out.KeyMetadata.KeyState) == kms.KeyStateEnabled {
		state = interfaces.RootKeyActive
	}

	return interfaces.RootKeyMetadata{
		ID:        rootKeyID,
		State:     state,
		CreatedAt: aws.TimeValue(out.KeyMetadata.CreationDate),
	}, nil
}

// classifyAWSError maps KMS error codes onto the root key service error taxonomy.
func classifyAWSError(err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case kms.ErrCodeNotFoundException, kms.ErrCodeDisabledException, kms.ErrCodeInvalidStateException:
			return fmt.Errorf("%w: %v", interfaces.ErrRootKeyUnavailable, err)
		case kms.ErrCodeInvalidCiphertextException, kms.ErrCodeIncorrectKeyException:
			return fmt.Errorf("%w: %v", interfaces.ErrAuthenticationFailed, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", interfaces.ErrRootKeyTransient, err)
}
