package onion_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zkswarm/zks-core/internal/constants"
	zerrors "github.com/zkswarm/zks-core/internal/errors"
	"github.com/zkswarm/zks-core/pkg/crypto"
	"github.com/zkswarm/zks-core/pkg/onion"
)

// newHops builds an n-hop path, exit first.
func newHops(t *testing.T, n int) []onion.Hop {
	t.Helper()
	hops := make([]onion.Hop, n)
	for i := range hops {
		kind := onion.HopRelay
		if i == 0 {
			kind = onion.HopExit
		}
		hops[i] = onion.Hop{
			Kind:    kind,
			Key:     crypto.MustSecureRandomBytes(constants.AEADKeySize),
			Entropy: crypto.MustSecureRandomBytes(16),
		}
	}
	return hops
}

func TestWrapUnwrapIdentity(t *testing.T) {
	hops := newHops(t, 3)
	path, err := onion.NewPath(constants.CipherSuiteChaCha20Poly1305, hops)
	if err != nil {
		t.Fatalf("NewPath failed: %v", err)
	}

	payload := []byte("three hops out, one hop back")
	wire, err := path.Wrap(payload)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if bytes.Contains(wire, payload) {
		t.Error("Wrapped packet contains the payload in the clear")
	}

	got, err := path.Unwrap(wire)
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("Unwrap did not recover the payload")
	}
}

func TestPeelHopByHop(t *testing.T) {
	// Peel the way the network does: each hop removes exactly one layer.
	hops := newHops(t, 3)
	path, err := onion.NewPath(constants.CipherSuiteChaCha20Poly1305, hops)
	if err != nil {
		t.Fatalf("NewPath failed: %v", err)
	}

	payload := []byte("hop by hop")
	wire, err := path.Wrap(payload)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	// Entry relay: outermost AEAD layer.
	data, err := onion.PeelOuter(constants.CipherSuiteChaCha20Poly1305, hops[2], wire)
	if err != nil {
		t.Fatalf("PeelOuter failed: %v", err)
	}

	// Middle relay, then exit.
	if data, err = onion.PeelInner(hops[1], data); err != nil {
		t.Fatalf("PeelInner (relay) failed: %v", err)
	}
	if data, err = onion.PeelInner(hops[0], data); err != nil {
		t.Fatalf("PeelInner (exit) failed: %v", err)
	}

	if !bytes.Equal(data, payload) {
		t.Error("Hop-by-hop peel did not recover the payload")
	}
}

func TestSingleHopPath(t *testing.T) {
	hops := newHops(t, 1)
	path, err := onion.NewPath(constants.CipherSuiteChaCha20Poly1305, hops)
	if err != nil {
		t.Fatalf("NewPath failed: %v", err)
	}

	payload := []byte("direct exit")
	wire, err := path.Wrap(payload)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	got, err := path.Unwrap(wire)
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("Single-hop round trip mismatch")
	}
}

func TestMisorderedPeelFails(t *testing.T) {
	hops := newHops(t, 3)
	path, err := onion.NewPath(constants.CipherSuiteChaCha20Poly1305, hops)
	if err != nil {
		t.Fatalf("NewPath failed: %v", err)
	}

	wire, err := path.Wrap([]byte("strict ordering"))
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	// Trying the middle hop's key on the outer AEAD layer must fail
	// authentication; nothing inside leaks.
	if _, err := onion.PeelOuter(constants.CipherSuiteChaCha20Poly1305, hops[1], wire); !errors.Is(err, zerrors.ErrAuthenticationFailed) {
		t.Errorf("Out-of-order peel: got %v, want ErrAuthenticationFailed", err)
	}
}

func TestTamperedPacketRejected(t *testing.T) {
	hops := newHops(t, 2)
	path, err := onion.NewPath(constants.CipherSuiteChaCha20Poly1305, hops)
	if err != nil {
		t.Fatalf("NewPath failed: %v", err)
	}

	wire, err := path.Wrap([]byte("integrity"))
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	wire[len(wire)-1] ^= 0x01
	if _, err := path.Unwrap(wire); !errors.Is(err, zerrors.ErrAuthenticationFailed) {
		t.Errorf("Tampered packet: got %v, want ErrAuthenticationFailed", err)
	}
}

func TestHopKindSeparation(t *testing.T) {
	// The same key wrapped as relay must not peel as exit: the kind is
	// bound into the keystream context.
	key := crypto.MustSecureRandomBytes(constants.AEADKeySize)
	entropy := crypto.MustSecureRandomBytes(16)

	relay := onion.Hop{Kind: onion.HopRelay, Key: key, Entropy: entropy}
	exit := onion.Hop{Kind: onion.HopExit, Key: key, Entropy: entropy}

	payload := []byte("kind-bound keystream")
	data := append([]byte(nil), payload...)

	data, err := onion.PeelInner(relay, data)
	if err != nil {
		t.Fatalf("PeelInner failed: %v", err)
	}
	data, err = onion.PeelInner(exit, data)
	if err != nil {
		t.Fatalf("PeelInner failed: %v", err)
	}
	if bytes.Equal(data, payload) {
		t.Error("Relay and exit layers cancelled; kinds are not separated")
	}
}

func TestEntropyFreshensLayers(t *testing.T) {
	// Same key, different per-hop entropy: keystreams must differ.
	key := crypto.MustSecureRandomBytes(constants.AEADKeySize)

	hopA := onion.Hop{Kind: onion.HopRelay, Key: key, Entropy: []byte("circuit-a")}
	hopB := onion.Hop{Kind: onion.HopRelay, Key: key, Entropy: []byte("circuit-b")}

	payload := []byte("fresh per circuit")
	a := append([]byte(nil), payload...)
	b := append([]byte(nil), payload...)

	a, err := onion.PeelInner(hopA, a)
	if err != nil {
		t.Fatalf("PeelInner failed: %v", err)
	}
	b, err = onion.PeelInner(hopB, b)
	if err != nil {
		t.Fatalf("PeelInner failed: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("Different entropy produced identical layers")
	}
}

func TestNewPathValidation(t *testing.T) {
	if _, err := onion.NewPath(constants.CipherSuiteChaCha20Poly1305, nil); err == nil {
		t.Error("Empty path should be rejected")
	}

	bad := []onion.Hop{{Kind: onion.HopExit, Key: make([]byte, 16)}}
	if _, err := onion.NewPath(constants.CipherSuiteChaCha20Poly1305, bad); !errors.Is(err, zerrors.ErrInvalidKeySize) {
		t.Errorf("Short hop key: got %v, want ErrInvalidKeySize", err)
	}

	badKind := []onion.Hop{{Kind: 0x7F, Key: make([]byte, constants.AEADKeySize)}}
	if _, err := onion.NewPath(constants.CipherSuiteChaCha20Poly1305, badKind); err == nil {
		t.Error("Unknown hop kind should be rejected")
	}
}

func TestDestroyZeroizesKeys(t *testing.T) {
	hops := newHops(t, 2)
	path, err := onion.NewPath(constants.CipherSuiteChaCha20Poly1305, hops)
	if err != nil {
		t.Fatalf("NewPath failed: %v", err)
	}

	path.Destroy()
	if path.Len() != 0 {
		t.Error("Destroyed path still reports hops")
	}
	if _, err := path.Wrap([]byte("after destroy")); err == nil {
		t.Error("Wrap on a destroyed path should fail")
	}
}
