// Package kms implements envelope encryption for custodied secrets.
//
// Secrets (wallet seeds) are encrypted with AES-256-GCM under a random 32-byte
// data encryption key (DEK). The DEK is wrapped under a root key held by a root
// key service (see package rks) and only the wrapped DEK is persisted:
//
//	secret --AES-GCM(DEK)--> EncryptedBlob
//	DEK    --RootKeyService.Encrypt(rootKeyID)--> WrappedDEK{Ciphertext, RootKeyID, Strategy}
//
// # Key Pool
//
// KeyPool discovers root keys by probing the aliases <prefix>-1 .. <prefix>-N
// against the root key service. Unreachable aliases are skipped. Each new DEK is
// wrapped under a key chosen uniformly at random among the Active entries.
// The rotation policy is metadata for an operator-driven rotation job; nothing
// here re-wraps existing records when keys rotate or are disabled.
//
// # Wrapping Strategies
//
// The root key service is the DEK wrapping strategy. Its name is stored on every
// WrappedDEK so that an Envelope configured with secondary strategies can still
// unwrap records written by a previous deployment.
//
// # Master Key Protection
//
// The local-master-key strategy keeps its master key in memory only. SplitMasterKey
// and MasterKeyFromShares split it into Shamir shares for administrators and
// reconstruct it at startup:
//
//	shares, err := kms.SplitMasterKey(masterKey, 5, 3)
//	// ... distribute shares, erase masterKey
//	masterKey, err := kms.MasterKeyFromShares(shares[:3])
//	strategy, err := rks.NewLocalMasterKey(masterKey)
package kms
