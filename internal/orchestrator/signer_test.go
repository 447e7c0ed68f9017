package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sserrano44/GibberWallet/internal/message"
	"github.com/sserrano44/GibberWallet/internal/session"
)

// fakeResponder hands the decider straight back to the test
type fakeResponder struct {
	decide session.Decider
	err    error
}

func (f *fakeResponder) Listen(ctx context.Context, decide session.Decider) error {
	f.decide = decide
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return nil
}

func (f *fakeResponder) Stats() session.ResponderStats {
	return session.ResponderStats{State: session.ResponderIdle}
}

type fakeTxSigner struct {
	signed []message.TxDescriptor
	err    error
}

func (f *fakeTxSigner) Sign(desc message.TxDescriptor) (*message.TxResult, error) {
	f.signed = append(f.signed, desc)
	if f.err != nil {
		return nil, f.err
	}
	return &message.TxResult{RawTx: "0xf86c", TxHash: "0xaa"}, nil
}

// decider runs Serve until it registers and returns the decider it installed
func decider(t *testing.T, s *Signer, approve ApprovalFunc) session.Decider {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Serve(ctx, approve))
	r := s.responder.(*fakeResponder)
	require.NotNil(t, r.decide)
	return r.decide
}

func approveAll(context.Context, message.TxDescriptor) bool  { return true }
func approveNone(context.Context, message.TxDescriptor) bool { return false }

func TestSignerApproved(t *testing.T) {
	ts := &fakeTxSigner{}
	s := NewSigner(&fakeResponder{}, ts, SignerConfig{ChainID: 1}, testLogger())

	result, err := decider(t, s, approveAll)(context.Background(), testDescriptor())
	require.NoError(t, err)
	assert.Equal(t, "0xaa", result.TxHash)
	assert.Equal(t, []message.TxDescriptor{testDescriptor()}, ts.signed)
}

func TestSignerRejected(t *testing.T) {
	ts := &fakeTxSigner{}
	s := NewSigner(&fakeResponder{}, ts, SignerConfig{}, testLogger())

	_, err := decider(t, s, approveNone)(context.Background(), testDescriptor())
	assert.ErrorIs(t, err, session.ErrRejected)
	assert.Empty(t, ts.signed, "nothing is signed without approval")
}

func TestSignerChainCheck(t *testing.T) {
	tests := []struct {
		name     string
		expected uint64
		chainID  string
		wantErr  error
		asked    bool
	}{
		{"any chain", 0, "0x89", nil, true},
		{"matching chain", 137, "0x89", nil, true},
		{"other chain", 1, "0x89", session.ErrRejected, false},
		{"unparseable chain", 1, "0x10000000000000000", session.ErrInvalidRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asked := false
			approve := func(context.Context, message.TxDescriptor) bool {
				asked = true
				return true
			}

			s := NewSigner(&fakeResponder{}, &fakeTxSigner{}, SignerConfig{ChainID: tt.expected}, testLogger())
			desc := testDescriptor()
			desc.ChainID = tt.chainID

			_, err := decider(t, s, approve)(context.Background(), desc)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.asked, asked)
		})
	}
}

func TestSignerSigningFailure(t *testing.T) {
	s := NewSigner(&fakeResponder{}, &fakeTxSigner{err: errors.New("hsm unavailable")}, SignerConfig{}, testLogger())

	_, err := decider(t, s, approveAll)(context.Background(), testDescriptor())
	assert.EqualError(t, err, "hsm unavailable")
	assert.False(t, errors.Is(err, session.ErrRejected))
}

func TestSignerShutdownDuringApproval(t *testing.T) {
	s := NewSigner(&fakeResponder{}, &fakeTxSigner{}, SignerConfig{}, testLogger())
	decide := decider(t, s, func(ctx context.Context, _ message.TxDescriptor) bool {
		<-ctx.Done()
		return false
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := decide(ctx, testDescriptor())
	assert.ErrorIs(t, err, session.ErrRejected)
	assert.Contains(t, err.Error(), "shutting down")
}

func TestServeRequiresCollaborators(t *testing.T) {
	s := NewSigner(&fakeResponder{}, &fakeTxSigner{}, SignerConfig{}, nil)
	assert.Error(t, s.Serve(context.Background(), nil))

	s = NewSigner(&fakeResponder{}, nil, SignerConfig{}, nil)
	assert.Error(t, s.Serve(context.Background(), approveAll))
}

func TestServeListenError(t *testing.T) {
	listenErr := &session.TransportError{Reason: session.ListenError, Err: errors.New("no microphone")}
	s := NewSigner(&fakeResponder{err: listenErr}, &fakeTxSigner{}, SignerConfig{}, testLogger())

	err := s.Serve(context.Background(), approveAll)
	assert.ErrorIs(t, err, session.ErrListenError)
	assert.Equal(t, session.ResponderIdle, s.Stats().State)
}
