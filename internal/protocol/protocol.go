// Package protocol implements the call envelope wire format and the
// worker environment-variable contract described in spec.md §4.6/§6.
//
// Design notes §9 treats the original "cloudpickle-v1" tag as
// language-coupled legacy and asks for a self-describing binary
// format the target ecosystem actually supports; this build picks
// CBOR (github.com/fxamacker/cbor/v2) and freezes the tag "cbor-v1".
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/coralrun/coral/internal/coralerr"
	"github.com/coralrun/coral/internal/coralspec"
)

// SerializationTag is the only serialization format protocol v1 speaks.
const SerializationTag = "cbor-v1"

// NewCallID returns a 32-hex-character id (a UUIDv4 with dashes
// stripped), matching spec.md §3's "32-hex UUID".
func NewCallID() string {
	return hexUUID()
}

// NewRunID returns a 32-hex-character id for one run session.
func NewRunID() string {
	return hexUUID()
}

func hexUUID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])
}

// EncodeArgs CBOR-encodes and base64-wraps a positional argument list.
func EncodeArgs(args []any) (string, error) {
	return encodeAny(args)
}

// EncodeKwargs CBOR-encodes and base64-wraps a keyword argument map.
func EncodeKwargs(kwargs map[string]any) (string, error) {
	return encodeAny(kwargs)
}

// EncodeValue CBOR-encodes v without the base64 wrapping EncodeArgs/
// EncodeKwargs apply — used for the worker's result payload, which
// travels as a byte stream (a file or RESULT_URI body), not an env var.
func EncodeValue(v any) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, coralerr.Wrap(coralerr.ProtocolError, "cbor encode result", err)
	}
	return b, nil
}

// DecodeValue reverses EncodeValue.
func DecodeValue(b []byte, dst any) error {
	if err := cbor.Unmarshal(b, dst); err != nil {
		return coralerr.Wrap(coralerr.ProtocolError, "cbor decode result", err)
	}
	return nil
}

func encodeAny(v any) (string, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return "", coralerr.Wrap(coralerr.ProtocolError, "cbor encode", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeArgs reverses EncodeArgs into dst (a pointer, e.g. *[]any or a
// pointer to a concrete slice type the worker's registered function expects).
func DecodeArgs(b64 string, dst any) error {
	return decodeInto(b64, dst)
}

// DecodeKwargs reverses EncodeKwargs into dst.
func DecodeKwargs(b64 string, dst any) error {
	return decodeInto(b64, dst)
}

func decodeInto(b64 string, dst any) error {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return coralerr.Wrap(coralerr.ProtocolError, "base64 decode", err)
	}
	if err := cbor.Unmarshal(raw, dst); err != nil {
		return coralerr.Wrap(coralerr.ProtocolError, "cbor decode", err)
	}
	return nil
}

// NewCallSpec builds a CallSpec, enforcing the frozen serialization
// tag and protocol version.
func NewCallSpec(callID, module, qualifiedName, argsB64, kwargsB64, resultRef string, stdoutMode coralspec.StdoutMode, labels map[string]string) coralspec.CallSpec {
	return coralspec.CallSpec{
		CallID:          callID,
		Module:          module,
		QualifiedName:   qualifiedName,
		ArgsB64:         argsB64,
		KwargsB64:       kwargsB64,
		Serialization:   SerializationTag,
		ResultRef:       resultRef,
		StdoutMode:      stdoutMode,
		LogLabels:       labels,
		ProtocolVersion: coralspec.ProtocolVersion,
	}
}

// ToJSON serializes a CallSpec for spec.md §3's round-trip invariant.
// encoding/json sorts map keys (log_labels) but emits the top-level
// fields in struct declaration order, not sorted; this is sufficient: the
// invariant under test is round-trip equality, not byte-for-byte
// canonical form.
func ToJSON(cs coralspec.CallSpec) ([]byte, error) {
	b, err := json.Marshal(cs)
	if err != nil {
		return nil, coralerr.Wrap(coralerr.ProtocolError, "encode CallSpec", err)
	}
	return b, nil
}

// FromJSON decodes a CallSpec and validates protocol_version and
// serialization against what this build understands. Any mismatch is
// a ProtocolError, per spec.md §7.
func FromJSON(b []byte) (coralspec.CallSpec, error) {
	var cs coralspec.CallSpec
	if err := json.Unmarshal(b, &cs); err != nil {
		return coralspec.CallSpec{}, coralerr.Wrap(coralerr.ProtocolError, "decode CallSpec", err)
	}
	if cs.ProtocolVersion != coralspec.ProtocolVersion {
		return coralspec.CallSpec{}, coralerr.New(coralerr.ProtocolError, fmt.Sprintf("unsupported protocol_version %q", cs.ProtocolVersion))
	}
	if cs.Serialization != SerializationTag {
		return coralspec.CallSpec{}, coralerr.New(coralerr.ProtocolError, fmt.Sprintf("unsupported serialization tag %q", cs.Serialization))
	}
	return cs, nil
}

// maxEnvChunkBytes is this build's driver constant for the "exact
// upper bound on a per-variable environment size" design notes §9
// leaves open, resolved here at 1000 bytes per variable (spec.md
// requires chunking at >=1001 bytes).
const maxEnvChunkBytes = 1000

// ChunkEnvValue splits value into fixed-size chunks when it exceeds
// maxEnvChunkBytes, returning the chunk count and a map of
// "<prefix>_0000".."<prefix>_NNNN" -> chunk. A value at or under the
// limit is returned unchunked (count == 0).
func ChunkEnvValue(prefix, value string) (count int, chunks map[string]string) {
	if len(value) <= maxEnvChunkBytes {
		return 0, nil
	}
	chunks = make(map[string]string)
	for i := 0; i*maxEnvChunkBytes < len(value); i++ {
		start := i * maxEnvChunkBytes
		end := start + maxEnvChunkBytes
		if end > len(value) {
			end = len(value)
		}
		chunks[fmt.Sprintf("%s_%04d", prefix, i)] = value[start:end]
		count = i + 1
	}
	return count, chunks
}

// JoinEnvChunks reassembles a value split by ChunkEnvValue, given the
// chunk count and a lookup function over env variable names.
func JoinEnvChunks(prefix string, count int, lookup func(name string) (string, bool)) (string, error) {
	var out []byte
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("%s_%04d", prefix, i)
		chunk, ok := lookup(name)
		if !ok {
			return "", coralerr.New(coralerr.ProtocolError, "missing env chunk "+name)
		}
		out = append(out, chunk...)
	}
	return string(out), nil
}
