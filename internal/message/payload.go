package message

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const addressLength = 20

// TxDescriptor describes an unsigned Ethereum transaction. Quantities are 0x-prefixed
// lowercase hex without leading zeros, To is a 20-byte address, Data is 0x-prefixed
// hex bytes.
type TxDescriptor struct {
	ChainID  string `json:"chainId"`
	Nonce    string `json:"nonce"`
	GasPrice string `json:"gasPrice"`
	GasLimit string `json:"gasLimit"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Data     string `json:"data"`
}

// Normalize lowercases hex fields and fills an empty Data with "0x"
func (d TxDescriptor) Normalize() TxDescriptor {
	lower := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

	out := TxDescriptor{
		ChainID:  lower(d.ChainID),
		Nonce:    lower(d.Nonce),
		GasPrice: lower(d.GasPrice),
		GasLimit: lower(d.GasLimit),
		To:       lower(d.To),
		Value:    lower(d.Value),
		Data:     lower(d.Data),
	}
	if out.Data == "" {
		out.Data = "0x"
	}
	return out
}

// Validate checks that every field is in canonical hex form
func (d TxDescriptor) Validate() error {
	quantities := []struct {
		name  string
		value string
	}{
		{"chainId", d.ChainID},
		{"nonce", d.Nonce},
		{"gasPrice", d.GasPrice},
		{"gasLimit", d.GasLimit},
		{"value", d.Value},
	}
	for _, q := range quantities {
		if err := checkHex(q.value); err != nil {
			return fmt.Errorf("%s must be a canonical hex quantity, got %q", q.name, q.value)
		}
		if _, err := hexutil.DecodeBig(q.value); err != nil {
			return fmt.Errorf("%s must be a canonical hex quantity, got %q: %w", q.name, q.value, err)
		}
	}

	if d.ChainID == "0x0" {
		return fmt.Errorf("chainId must be non-zero")
	}

	to, err := hexutil.Decode(d.To)
	if err != nil || checkHex(d.To) != nil || len(to) != addressLength {
		return fmt.Errorf("to must be a 20-byte hex address, got %q", d.To)
	}

	if _, err := hexutil.Decode(d.Data); err != nil || checkHex(d.Data) != nil {
		return fmt.Errorf("data must be 0x-prefixed hex bytes, got %q", d.Data)
	}

	return nil
}

// TxResult is the signer's answer to a TxRequest
type TxResult struct {
	RawTx  string `json:"raw"`
	TxHash string `json:"hash"`
}

// ErrorPayload is carried by Error envelopes
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
}

// Role tells the peer which side of the exchange the sender plays
type Role string

const (
	RoleClient Role = "client"
	RoleSigner Role = "signer"
)

// ConnectPayload is carried by Connect and ConnectAck envelopes
type ConnectPayload struct {
	Role Role `json:"role"`
}

// DecodeTxDescriptor extracts the transaction descriptor of a TxRequest
func DecodeTxDescriptor(env *Envelope) (TxDescriptor, error) {
	var d TxDescriptor
	if err := decodeAs(env, KindTxRequest, &d); err != nil {
		return TxDescriptor{}, err
	}
	return d, nil
}

// DecodeTxResult extracts the signed transaction of a TxResponse
func DecodeTxResult(env *Envelope) (TxResult, error) {
	var r TxResult
	if err := decodeAs(env, KindTxResponse, &r); err != nil {
		return TxResult{}, err
	}
	if r.RawTx == "" || r.TxHash == "" {
		return TxResult{}, fmt.Errorf("tx_response payload missing raw or hash")
	}
	return r, nil
}

// DecodeError extracts the payload of an Error envelope
func DecodeError(env *Envelope) (ErrorPayload, error) {
	var p ErrorPayload
	if err := decodeAs(env, KindError, &p); err != nil {
		return ErrorPayload{}, err
	}
	return p, nil
}

// NewError builds an Error envelope answering to
func NewError(to *Envelope, code ErrorCode, msg string) (*Envelope, error) {
	return Reply(to, KindError, ErrorPayload{Code: code, Message: msg})
}

// NewErrorFor builds an Error envelope for an offending envelope known only by its
// ids, as happens when the envelope itself failed to parse
func NewErrorFor(id, correlationID string, code ErrorCode, msg string) (*Envelope, error) {
	return NewError(&Envelope{ID: id, CorrelationID: correlationID}, code, msg)
}

func decodeAs(env *Envelope, kind Kind, v any) error {
	if env == nil {
		return fmt.Errorf("nil envelope")
	}
	if env.Kind != kind {
		return fmt.Errorf("expected %s envelope, got %s", kind, env.Kind)
	}
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s envelope has no payload", kind)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}
	return nil
}

// checkHex rejects the uppercase forms hexutil tolerates
func checkHex(s string) error {
	if !strings.HasPrefix(s, "0x") || s != strings.ToLower(s) {
		return fmt.Errorf("not lowercase 0x-prefixed hex")
	}
	return nil
}
