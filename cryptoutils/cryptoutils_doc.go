// Package cryptoutils holds the symmetric primitives shared by the custody services.
//
// # Authenticated encryption
//
// SymmetricEncrypt seals data with AES-256-GCM under a 32-byte key and a fresh random
// nonce. The output layout is
//
//	[nonce (12 bytes)][tag (16 bytes)][ciphertext]
//
// SymmetricDecrypt reverses it and fails with interfaces.ErrAuthenticationFailed when
// the tag does not verify.
//
// # Key derivation
//
// DeriveSubjectKey stretches a principal's subject into a 32-byte key with
// PBKDF2-HMAC-SHA256 (210,000 iterations) and a random 16-byte salt from NewSalt.
//
// DeriveBIP32 derives a secp256k1 key from a BIP-39 seed along a derivation path
// such as EthereumDerivationPath, using btcutil's hdkeychain.
package cryptoutils
