package handshake

import (
	"context"
	"io"
	"time"

	"github.com/zkswarm/zks-core/internal/constants"
	zerrors "github.com/zkswarm/zks-core/internal/errors"
	"github.com/zkswarm/zks-core/pkg/metrics"
	"github.com/zkswarm/zks-core/pkg/protocol"
)

// Initiate runs the full initiator handshake over rw. The connection must
// carry nothing else until Initiate returns. A zero timeout uses the
// default per-message timeout.
func Initiate(ctx context.Context, rw io.ReadWriter, local *Identity, peerBundle *Bundle,
	suite constants.CipherSuite, timeout time.Duration, logger *metrics.Logger) (*SessionKeys, error) {

	if logger == nil {
		logger = metrics.NullLogger()
	}
	logger = logger.Named("handshake")
	if timeout <= 0 {
		timeout = constants.DefaultHandshakeTimeoutSeconds * time.Second
	}

	ctx, end := metrics.StartSpan(ctx, metrics.SpanHandshakeInitiator)
	var retErr error
	defer func() { end(retErr) }()

	init, err := NewInitiator(local, peerBundle, suite)
	if err != nil {
		retErr = err
		return nil, err
	}

	msg1, err := init.CreateInit()
	if err != nil {
		retErr = err
		return nil, err
	}
	if err := protocol.WriteMessage(rw, protocol.MsgTypeHandshakeInit, msg1); err != nil {
		init.Abort()
		retErr = err
		return nil, zerrors.NewHandshakeError("msg1", err)
	}
	logger.Debug("sent handshake init", metrics.Fields{"suite": suite.String()})

	msg2, err := readWithTimeout(ctx, rw, protocol.MsgTypeHandshakeReply, timeout)
	if err != nil {
		init.Abort()
		retErr = err
		return nil, err
	}

	msg3, keys, err := init.ProcessReply(msg2)
	if err != nil {
		retErr = err
		return nil, err
	}

	if err := protocol.WriteMessage(rw, protocol.MsgTypeHandshakeConfirm, msg3); err != nil {
		keys.Zeroize()
		retErr = err
		return nil, zerrors.NewHandshakeError("confirm", err)
	}

	logger.Info("handshake complete", metrics.Fields{
		"role":  "initiator",
		"suite": suite.String(),
	})
	return keys, nil
}

// Respond runs the full responder handshake over rw. The authorize callback
// may be nil to accept any initiator that proves possession of its keys.
func Respond(ctx context.Context, rw io.ReadWriter, local *Identity,
	authorize func(*Bundle) bool, timeout time.Duration, logger *metrics.Logger) (*SessionKeys, error) {

	if logger == nil {
		logger = metrics.NullLogger()
	}
	logger = logger.Named("handshake")
	if timeout <= 0 {
		timeout = constants.DefaultHandshakeTimeoutSeconds * time.Second
	}

	ctx, end := metrics.StartSpan(ctx, metrics.SpanHandshakeResponder)
	var retErr error
	defer func() { end(retErr) }()

	resp, err := NewResponder(local)
	if err != nil {
		retErr = err
		return nil, err
	}
	resp.Authorize = authorize

	msg1, err := readWithTimeout(ctx, rw, protocol.MsgTypeHandshakeInit, timeout)
	if err != nil {
		retErr = err
		return nil, err
	}

	msg2, err := resp.ProcessInit(msg1)
	if err != nil {
		retErr = err
		return nil, err
	}
	if err := protocol.WriteMessage(rw, protocol.MsgTypeHandshakeReply, msg2); err != nil {
		resp.Abort()
		retErr = err
		return nil, zerrors.NewHandshakeError("msg2", err)
	}

	msg3, err := readWithTimeout(ctx, rw, protocol.MsgTypeHandshakeConfirm, timeout)
	if err != nil {
		resp.Abort()
		retErr = err
		return nil, err
	}

	keys, err := resp.ProcessConfirm(msg3)
	if err != nil {
		retErr = err
		return nil, err
	}

	logger.Info("handshake complete", metrics.Fields{
		"role":  "responder",
		"suite": keys.Suite.String(),
	})
	return keys, nil
}

type readResult struct {
	payload []byte
	err     error
}

// readWithTimeout reads one expected message, bounding the wait. On timeout
// the handshake is abandoned; the reader goroutine drains whenever the
// underlying connection is closed by the caller.
func readWithTimeout(ctx context.Context, r io.Reader, want protocol.MessageType, timeout time.Duration) ([]byte, error) {
	ch := make(chan readResult, 1)
	go func() {
		payload, err := protocol.ExpectMessage(r, want)
		ch <- readResult{payload, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			if zerrors.Is(res.err, zerrors.ErrInvalidMessage) || zerrors.Is(res.err, zerrors.ErrMessageTooLarge) {
				return nil, zerrors.ErrMalformed
			}
			return nil, res.err
		}
		return res.payload, nil
	case <-timer.C:
		return nil, zerrors.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
