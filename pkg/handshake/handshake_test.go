package handshake_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/zkswarm/zks-core/internal/constants"
	zerrors "github.com/zkswarm/zks-core/internal/errors"
	"github.com/zkswarm/zks-core/pkg/handshake"
)

func newIdentities(t *testing.T) (*handshake.Identity, *handshake.Identity) {
	t.Helper()
	initiator, err := handshake.NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}
	responder, err := handshake.NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}
	return initiator, responder
}

// runHandshake drives both state machines directly, without I/O.
func runHandshake(t *testing.T, idI, idR *handshake.Identity) (*handshake.SessionKeys, *handshake.SessionKeys) {
	t.Helper()

	init, err := handshake.NewInitiator(idI, idR.Bundle(), constants.CipherSuiteChaCha20Poly1305)
	if err != nil {
		t.Fatalf("NewInitiator failed: %v", err)
	}
	resp, err := handshake.NewResponder(idR)
	if err != nil {
		t.Fatalf("NewResponder failed: %v", err)
	}

	msg1, err := init.CreateInit()
	if err != nil {
		t.Fatalf("CreateInit failed: %v", err)
	}
	msg2, err := resp.ProcessInit(msg1)
	if err != nil {
		t.Fatalf("ProcessInit failed: %v", err)
	}
	msg3, keysI, err := init.ProcessReply(msg2)
	if err != nil {
		t.Fatalf("ProcessReply failed: %v", err)
	}
	keysR, err := resp.ProcessConfirm(msg3)
	if err != nil {
		t.Fatalf("ProcessConfirm failed: %v", err)
	}

	return keysI, keysR
}

func TestHandshakeKeyAgreement(t *testing.T) {
	idI, idR := newIdentities(t)
	keysI, keysR := runHandshake(t, idI, idR)

	// Directional keys must cross over.
	if !bytes.Equal(keysI.SendKey[:], keysR.RecvKey[:]) {
		t.Error("Initiator send key does not match responder recv key")
	}
	if !bytes.Equal(keysI.RecvKey[:], keysR.SendKey[:]) {
		t.Error("Initiator recv key does not match responder send key")
	}
	if bytes.Equal(keysI.SendKey[:], keysI.RecvKey[:]) {
		t.Error("Directional keys must differ")
	}
	if keysI.Generation != 0 || keysR.Generation != 0 {
		t.Error("Fresh sessions must start at generation 0")
	}
}

func TestHandshakeStateMachineMonotonic(t *testing.T) {
	idI, idR := newIdentities(t)

	init, err := handshake.NewInitiator(idI, idR.Bundle(), constants.CipherSuiteChaCha20Poly1305)
	if err != nil {
		t.Fatalf("NewInitiator failed: %v", err)
	}

	if _, err := init.CreateInit(); err != nil {
		t.Fatalf("CreateInit failed: %v", err)
	}
	if init.State() != handshake.StateInitSent {
		t.Errorf("State after CreateInit: got %v, want InitSent", init.State())
	}

	// Repeating a step must fail.
	if _, err := init.CreateInit(); err == nil {
		t.Error("Second CreateInit should fail")
	}
}

func TestHandshakeDistinctRuns(t *testing.T) {
	idI, idR := newIdentities(t)

	keys1, _ := runHandshake(t, idI, idR)
	keys2, _ := runHandshake(t, idI, idR)

	// Fresh ephemerals mean fresh session keys every run.
	if bytes.Equal(keys1.SendKey[:], keys2.SendKey[:]) {
		t.Error("Two handshakes produced identical session keys")
	}
}

func TestHandshakeIdentityHidden(t *testing.T) {
	idI, idR := newIdentities(t)

	init, err := handshake.NewInitiator(idI, idR.Bundle(), constants.CipherSuiteChaCha20Poly1305)
	if err != nil {
		t.Fatalf("NewInitiator failed: %v", err)
	}
	msg1, err := init.CreateInit()
	if err != nil {
		t.Fatalf("CreateInit failed: %v", err)
	}

	// The initiator's static keys must not appear in the clear in Msg1.
	if bytes.Contains(msg1, idI.X25519.PublicKeyBytes()) {
		t.Error("Msg1 leaks initiator static X25519 key")
	}
	if bytes.Contains(msg1, idI.MLKEM.PublicKeyBytes()[:64]) {
		t.Error("Msg1 leaks initiator static ML-KEM key")
	}
}

func TestHandshakeTamperedReplyFails(t *testing.T) {
	idI, idR := newIdentities(t)

	init, _ := handshake.NewInitiator(idI, idR.Bundle(), constants.CipherSuiteChaCha20Poly1305)
	resp, _ := handshake.NewResponder(idR)

	msg1, err := init.CreateInit()
	if err != nil {
		t.Fatalf("CreateInit failed: %v", err)
	}
	msg2, err := resp.ProcessInit(msg1)
	if err != nil {
		t.Fatalf("ProcessInit failed: %v", err)
	}

	// Flip a bit in the encrypted identity block at the end of Msg2.
	msg2[len(msg2)-1] ^= 0x01

	_, _, err = init.ProcessReply(msg2)
	if !errors.Is(err, zerrors.ErrAuthenticationFailed) {
		t.Errorf("Tampered reply: got %v, want ErrAuthenticationFailed", err)
	}
	if init.State() != handshake.StateFailed {
		t.Error("Initiator should be in Failed state after tampered reply")
	}
}

func TestHandshakeWrongResponderRejected(t *testing.T) {
	idI, idR := newIdentities(t)
	_, idEvil := newIdentities(t)

	// Initiator targets idR, but idEvil answers.
	init, _ := handshake.NewInitiator(idI, idR.Bundle(), constants.CipherSuiteChaCha20Poly1305)
	resp, _ := handshake.NewResponder(idEvil)

	msg1, err := init.CreateInit()
	if err != nil {
		t.Fatalf("CreateInit failed: %v", err)
	}

	// The imposter cannot decrypt the identity block keyed to idR's static
	// key, so it fails already at Msg1.
	if _, err := resp.ProcessInit(msg1); !errors.Is(err, zerrors.ErrAuthenticationFailed) {
		t.Errorf("Imposter responder: got %v, want ErrAuthenticationFailed", err)
	}
}

func TestHandshakeBadConfirmFails(t *testing.T) {
	idI, idR := newIdentities(t)

	init, _ := handshake.NewInitiator(idI, idR.Bundle(), constants.CipherSuiteChaCha20Poly1305)
	resp, _ := handshake.NewResponder(idR)

	msg1, _ := init.CreateInit()
	msg2, err := resp.ProcessInit(msg1)
	if err != nil {
		t.Fatalf("ProcessInit failed: %v", err)
	}
	msg3, _, err := init.ProcessReply(msg2)
	if err != nil {
		t.Fatalf("ProcessReply failed: %v", err)
	}

	msg3[5] ^= 0x01
	if _, err := resp.ProcessConfirm(msg3); !errors.Is(err, zerrors.ErrAuthenticationFailed) {
		t.Errorf("Tampered confirm: got %v, want ErrAuthenticationFailed", err)
	}
}

func TestHandshakeAuthorizeCallback(t *testing.T) {
	idI, idR := newIdentities(t)

	init, _ := handshake.NewInitiator(idI, idR.Bundle(), constants.CipherSuiteChaCha20Poly1305)
	resp, _ := handshake.NewResponder(idR)
	resp.Authorize = func(b *handshake.Bundle) bool { return false }

	msg1, _ := init.CreateInit()
	if _, err := resp.ProcessInit(msg1); !errors.Is(err, zerrors.ErrAuthenticationFailed) {
		t.Errorf("Rejected initiator: got %v, want ErrAuthenticationFailed", err)
	}
}

func TestBundleRoundTrip(t *testing.T) {
	id, err := handshake.NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}

	encoded, err := id.Bundle().Encode()
	if err != nil {
		t.Fatalf("Bundle.Encode failed: %v", err)
	}
	if len(encoded) != handshake.BundleSize {
		t.Errorf("Bundle size: got %d, want %d", len(encoded), handshake.BundleSize)
	}

	parsed, err := handshake.ParseBundle(encoded)
	if err != nil {
		t.Fatalf("ParseBundle failed: %v", err)
	}
	if !parsed.Equal(id.Bundle()) {
		t.Error("Parsed bundle does not match original")
	}
}

func TestInitiateRespondOverPipe(t *testing.T) {
	idI, idR := newIdentities(t)

	connI, connR := net.Pipe()
	defer connI.Close()
	defer connR.Close()

	type result struct {
		keys *handshake.SessionKeys
		err  error
	}

	respCh := make(chan result, 1)
	go func() {
		keys, err := handshake.Respond(context.Background(), connR, idR, nil, 5*time.Second, nil)
		respCh <- result{keys, err}
	}()

	keysI, err := handshake.Initiate(context.Background(), connI, idI, idR.Bundle(),
		constants.CipherSuiteChaCha20Poly1305, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}

	respRes := <-respCh
	if respRes.err != nil {
		t.Fatalf("Respond failed: %v", respRes.err)
	}

	if !bytes.Equal(keysI.SendKey[:], respRes.keys.RecvKey[:]) {
		t.Error("Keys disagree across the pipe")
	}
}

func TestInitiateTimeout(t *testing.T) {
	idI, idR := newIdentities(t)

	connI, connR := net.Pipe()
	defer connR.Close()

	done := make(chan error, 1)
	go func() {
		// Nothing reads from connR beyond Msg1, so the initiator must
		// time out waiting for Msg2.
		go func() {
			buf := make([]byte, 65536)
			for {
				if _, err := connR.Read(buf); err != nil {
					return
				}
			}
		}()
		_, err := handshake.Initiate(context.Background(), connI, idI, idR.Bundle(),
			constants.CipherSuiteChaCha20Poly1305, 100*time.Millisecond, nil)
		done <- err
		connI.Close()
	}()

	select {
	case err := <-done:
		if !errors.Is(err, zerrors.ErrTimeout) {
			t.Errorf("Silent peer: got %v, want ErrTimeout", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Initiate did not time out")
	}
}
