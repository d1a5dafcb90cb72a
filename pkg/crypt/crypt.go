// Package crypt provides the encrypt/decrypt pairs applied to connection
// byte streams, and the self-test a pair must pass before it is installed.
package crypt

// Pair transforms outgoing and incoming bytes. Implementations may be
// stateful, but Decrypt must accept ciphertext split at any byte boundary.
type Pair struct {
	Encrypt func([]byte) []byte
	Decrypt func([]byte) []byte
}

// Factory returns a fresh Pair. Pairs from one factory interoperate: what
// one pair encrypts, a fresh pair decrypts.
type Factory func() Pair

func identity(p []byte) []byte { return p }

// Identity returns the pass-through pair.
func Identity() Pair {
	return Pair{Encrypt: identity, Decrypt: identity}
}

// IdentityFactory is a Factory for Identity.
func IdentityFactory() Pair {
	return Identity()
}

// SealPacket encrypts a self-contained packet with a fresh pair, so losing
// or reordering earlier packets does not affect it.
func SealPacket(f Factory, p []byte) []byte {
	return f().Encrypt(p)
}

// OpenPacket decrypts a packet produced by SealPacket.
func OpenPacket(f Factory, p []byte) []byte {
	return f().Decrypt(p)
}
