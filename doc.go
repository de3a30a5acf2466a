// Package zkscore is the cryptographic core of the ZKS tunnel client: it
// turns an untrusted, relay-mediated byte stream into a confidential,
// authenticated, multi-hop channel.
//
// The core is built from five subsystems:
//
//   - pkg/handshake: a 3-message hybrid key exchange (X25519 + ML-KEM-1024)
//     that derives per-direction session keys while hiding both parties'
//     static identities from passive observers.
//   - pkg/entropy: a bounded pool of swarm-contributed randomness, refreshed
//     by a background collector and read as immutable snapshots.
//   - pkg/wvernam: the Wasif-Vernam double-key engine, an AEAD stream cipher
//     that XOR-mixes pool entropy into every frame before sealing it.
//   - pkg/rotation: per-direction key rotation bounding the bytes and time
//     any single key is exposed, with a grace window for in-flight frames.
//   - pkg/onion: nested per-hop layering for relay/exit paths, where each
//     intermediate hop peels exactly one layer.
//
// pkg/tunnel ties these together behind a Session facade consumed by the
// transport and framing layers, which are deliberately outside this module.
package zkscore
