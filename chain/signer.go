package chain

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/quantfall/arbengine/types"
)

// FileSigner signs bundles with an ed25519 keypair loaded from disk, the
// 64-byte JSON array layout used by local validator tooling. It exists for
// self-custodied deployments; anything heavier plugs in behind the Signer
// interface.
type FileSigner struct {
	key ed25519.PrivateKey
}

var _ Signer = (*FileSigner)(nil)

// NewFileSigner loads the keypair. A missing or malformed file surfaces as
// types.ErrSignerUnavailable.
func NewFileSigner(path string) (*FileSigner, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair %s: %v: %w", path, err, types.ErrSignerUnavailable)
	}

	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, fmt.Errorf("decode keypair %s: %v: %w", path, err, types.ErrSignerUnavailable)
	}
	if len(ints) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair %s has %d bytes, want %d: %w",
			path, len(ints), ed25519.PrivateKeySize, types.ErrSignerUnavailable)
	}

	key := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("keypair %s: byte %d out of range: %w",
				path, i, types.ErrSignerUnavailable)
		}
		key[i] = byte(v)
	}
	return &FileSigner{key: key}, nil
}

// Sign serializes the instruction sequence and appends the signature.
func (s *FileSigner) Sign(_ context.Context, instructions []types.Instruction) ([]byte, error) {
	if len(instructions) == 0 {
		return nil, fmt.Errorf("empty instruction sequence")
	}

	message := serializeInstructions(instructions)
	sig := ed25519.Sign(s.key, message)

	out := make([]byte, 0, len(sig)+len(message))
	out = append(out, sig...)
	out = append(out, message...)
	return out, nil
}

// serializeInstructions produces the canonical byte layout signed and
// submitted: count, then per instruction kind, program, account list and
// data, all lengths little-endian.
func serializeInstructions(instructions []types.Instruction) []byte {
	var buf []byte
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(instructions)))
	for _, in := range instructions {
		buf = append(buf, byte(in.Kind))
		buf = append(buf, in.Program[:]...)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(in.Accounts)))
		for _, acc := range in.Accounts {
			buf = append(buf, acc[:]...)
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(in.Data)))
		buf = append(buf, in.Data...)
	}
	return buf
}

// NopSigner returns the serialized message unsigned. Used by dry runs where
// no key is configured.
type NopSigner struct{}

var _ Signer = NopSigner{}

func (NopSigner) Sign(_ context.Context, instructions []types.Instruction) ([]byte, error) {
	if len(instructions) == 0 {
		return nil, fmt.Errorf("empty instruction sequence")
	}
	return serializeInstructions(instructions), nil
}
