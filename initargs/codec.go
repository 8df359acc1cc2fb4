package initargs

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Codec turns install payloads into the bytes handed to the platform.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// CBORCodec encodes payloads with core deterministic CBOR, so equal payloads
// always produce equal bytes. Decoding rejects unknown fields.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec builds the codec.
func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to build CBOR encoder: %w", err)
	}

	dec, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("failed to build CBOR decoder: %w", err)
	}

	return &CBORCodec{enc: enc, dec: dec}, nil
}

func (c *CBORCodec) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *CBORCodec) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}

// DecodeLedgerArgs decodes a ledger payload and checks that exactly one variant is set.
func DecodeLedgerArgs(c Codec, data []byte) (LedgerArgs, error) {
	var args LedgerArgs
	if err := c.Unmarshal(data, &args); err != nil {
		return LedgerArgs{}, fmt.Errorf("failed to decode ledger args: %w", err)
	}
	if (args.Init == nil) == (args.Upgrade == nil) {
		return LedgerArgs{}, fmt.Errorf("ledger args must carry exactly one of Init and Upgrade")
	}
	return args, nil
}

// DecodeIndexArgs decodes an index payload and checks that exactly one variant is set.
func DecodeIndexArgs(c Codec, data []byte) (IndexArgs, error) {
	var args IndexArgs
	if err := c.Unmarshal(data, &args); err != nil {
		return IndexArgs{}, fmt.Errorf("failed to decode index args: %w", err)
	}
	if (args.Init == nil) == (args.Upgrade == nil) {
		return IndexArgs{}, fmt.Errorf("index args must carry exactly one of Init and Upgrade")
	}
	return args, nil
}
