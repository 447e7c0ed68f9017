package message

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDescriptor() TxDescriptor {
	return TxDescriptor{
		ChainID:  "0x1",
		Nonce:    "0x7",
		GasPrice: "0x4a817c800",
		GasLimit: "0x5208",
		To:       "0xabcabcabcabcabcabcabcabcabcabcabcabcabca",
		Value:    "0x1",
		Data:     "0x",
	}
}

func TestNewStampsVersionAndID(t *testing.T) {
	env, err := New(KindConnect, ConnectPayload{Role: RoleClient}, "")
	require.NoError(t, err)

	assert.Equal(t, ProtocolVersion, env.ProtocolVersion)
	assert.Equal(t, KindConnect, env.Kind)
	assert.NotEmpty(t, env.ID)
	assert.NotEmpty(t, env.CorrelationID)
	assert.Empty(t, env.InReplyTo)

	other, err := New(KindConnect, nil, env.CorrelationID)
	require.NoError(t, err)
	assert.NotEqual(t, env.ID, other.ID)
	assert.Equal(t, env.CorrelationID, other.CorrelationID)
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New(Kind("ping"), nil, "")
	assert.Error(t, err)
}

func TestReplyLinksToOriginal(t *testing.T) {
	req, err := New(KindTxRequest, testDescriptor(), "")
	require.NoError(t, err)

	resp, err := Reply(req, KindTxResponse, TxResult{RawTx: "0xf86c", TxHash: "0xabc"})
	require.NoError(t, err)

	assert.Equal(t, req.ID, resp.InReplyTo)
	assert.Equal(t, req.CorrelationID, resp.CorrelationID)
	assert.NotEqual(t, resp.ID, resp.InReplyTo)
	assert.True(t, resp.IsReplyTo(req.ID))
}

func TestRoundTrip(t *testing.T) {
	req, err := New(KindTxRequest, testDescriptor(), "")
	require.NoError(t, err)
	resp, err := Reply(req, KindTxResponse, TxResult{RawTx: "0xf86c01", TxHash: "0xdeadbeef"})
	require.NoError(t, err)
	errEnv, err := NewError(req, CodeBusy, "Busy")
	require.NoError(t, err)
	connect, err := New(KindConnect, nil, "")
	require.NoError(t, err)
	ack, err := Reply(connect, KindAck, nil)
	require.NoError(t, err)

	for _, env := range []*Envelope{req, resp, errEnv, connect, ack} {
		t.Run(string(env.Kind), func(t *testing.T) {
			text, err := Serialize(env)
			require.NoError(t, err)
			assert.True(t, json.Valid(text))

			parsed, err := Parse(text)
			require.NoError(t, err)
			assert.Equal(t, env, parsed)
		})
	}
}

func TestParseRoundTripsNonCompactPayload(t *testing.T) {
	text := []byte(`{"v":"1.0","kind":"ack","id":"a","cid":"c","re":"b","payload": { "x" : 1 }}`)

	env, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(env.Payload))

	again, err := Serialize(env)
	require.NoError(t, err)
	reparsed, err := Parse(again)
	require.NoError(t, err)
	assert.Equal(t, env, reparsed)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		code      error
		replyable bool
	}{
		{"not json", `hello`, ErrMalformedEnvelope, false},
		{"missing id", `{"v":"1.0","kind":"connect","cid":"c"}`, ErrMalformedEnvelope, false},
		{"missing correlation id", `{"v":"1.0","kind":"connect","id":"x"}`, ErrMalformedEnvelope, true},
		{"missing version", `{"kind":"connect","id":"a","cid":"c"}`, ErrMalformedEnvelope, true},
		{"missing kind", `{"v":"1.0","id":"a","cid":"c"}`, ErrMalformedEnvelope, true},
		{"unknown kind", `{"v":"1.0","kind":"ping","id":"a","cid":"c"}`, ErrMalformedEnvelope, true},
		{"self reply", `{"v":"1.0","kind":"ack","id":"a","cid":"c","re":"a"}`, ErrMalformedEnvelope, true},
		{"future major", `{"v":"2.0","kind":"connect","id":"a","cid":"c"}`, ErrUnsupportedVersion, true},
		{"future major unknown kind", `{"v":"3.1","kind":"pong","id":"a","cid":"c"}`, ErrUnsupportedVersion, true},
		{"ancient", `{"v":"0.9","kind":"connect","id":"a","cid":"c"}`, ErrUnsupportedVersion, true},
		{"garbage version", `{"v":"banana","kind":"connect","id":"a","cid":"c"}`, ErrUnsupportedVersion, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Parse([]byte(tt.text))
			require.Error(t, err)
			assert.Nil(t, env)
			assert.True(t, errors.Is(err, tt.code), "expected %v, got %v", tt.code, err)

			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.replyable, pe.Replyable())
		})
	}
}

func TestParseErrorCode(t *testing.T) {
	_, err := Parse([]byte(`{"v":"9.0","kind":"connect","id":"a","cid":"c"}`))
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, CodeUnsupportedVersion, pe.ErrorCode())
	assert.Equal(t, "a", pe.ID)
	assert.Equal(t, "c", pe.CorrelationID)

	_, err = Parse([]byte(`{"v":"1.0","kind":"nope","id":"a","cid":"c"}`))
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, CodeMalformedEnvelope, pe.ErrorCode())
}

func TestVersionSupported(t *testing.T) {
	assert.True(t, VersionSupported("1.0"))
	assert.True(t, VersionSupported("1.4.2"))
	assert.False(t, VersionSupported("2.0"))
	assert.False(t, VersionSupported(""))
}

func TestDecodeHelpers(t *testing.T) {
	req, err := New(KindTxRequest, testDescriptor(), "")
	require.NoError(t, err)

	d, err := DecodeTxDescriptor(req)
	require.NoError(t, err)
	assert.Equal(t, testDescriptor(), d)

	_, err = DecodeTxResult(req)
	assert.Error(t, err, "kind mismatch must fail")

	empty, err := Reply(req, KindTxResponse, TxResult{})
	require.NoError(t, err)
	_, err = DecodeTxResult(empty)
	assert.Error(t, err)

	e, err := NewErrorFor("x", "cid", CodeRejected, "user declined")
	require.NoError(t, err)
	p, err := DecodeError(e)
	require.NoError(t, err)
	assert.Equal(t, CodeRejected, p.Code)
	assert.Equal(t, "x", e.InReplyTo)
	assert.Equal(t, "cid", e.CorrelationID)
}

func TestTxDescriptorValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TxDescriptor)
		valid  bool
	}{
		{"valid", func(*TxDescriptor) {}, true},
		{"zero value allowed", func(d *TxDescriptor) { d.Value = "0x0" }, true},
		{"leading zero", func(d *TxDescriptor) { d.Nonce = "0x07" }, false},
		{"missing prefix", func(d *TxDescriptor) { d.GasLimit = "5208" }, false},
		{"zero chain", func(d *TxDescriptor) { d.ChainID = "0x0" }, false},
		{"short address", func(d *TxDescriptor) { d.To = "0xabc" }, false},
		{"odd data", func(d *TxDescriptor) { d.Data = "0xabc" }, false},
		{"call data", func(d *TxDescriptor) { d.Data = "0xa9059cbb" }, true},
		{"uppercase quantity", func(d *TxDescriptor) { d.Value = "0xA" }, false},
		{"uppercase prefix", func(d *TxDescriptor) { d.Nonce = "0X1" }, false},
		{"empty quantity", func(d *TxDescriptor) { d.GasPrice = "0x" }, false},
		{"quantity over 256 bits", func(d *TxDescriptor) { d.Value = "0x1" + strings.Repeat("0", 64) }, false},
		{"non hex data", func(d *TxDescriptor) { d.Data = "0xzz" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDescriptor()
			tt.mutate(&d)
			err := d.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestTxDescriptorNormalize(t *testing.T) {
	d := TxDescriptor{ChainID: "0x1", Nonce: "0x0", GasPrice: "0x1", GasLimit: "0x5208",
		To: " 0xABCABCABCABCABCABCABCABCABCABCABCABCABCA", Value: "0xA"}

	n := d.Normalize()
	assert.Equal(t, "0xabcabcabcabcabcabcabcabcabcabcabcabcabca", n.To)
	assert.Equal(t, "0xa", n.Value)
	assert.Equal(t, "0x", n.Data)
	assert.NoError(t, n.Validate())
}
