// Package frame fixes the one concrete wire header this repo needs: the
// spec treats the RPC wire protocol as an external collaborator and only
// requires that a frame expose {service_key, client_id, kind} (spec §6).
// This codec is built on protobuf's low-level varint primitives rather than
// a generated message, since the header is three scalar fields plus an
// opaque payload — no .proto/protoc step buys anything here.
package frame

import (
	"fmt"

	"github.com/nodefabric/basenode/internal/idhash"
	"google.golang.org/protobuf/encoding/protowire"
)

// Kind classifies a Frame as carrying a request or a response. It is an
// explicit wire field (tag 1) — never inferred from which callback
// delivered the frame, resolving the Open Question in spec.md §9.
type Kind int

const (
	Request Kind = iota
	Response
)

const (
	tagKind    protowire.Number = 1
	tagKey     protowire.Number = 2
	tagClient  protowire.Number = 3
	tagPayload protowire.Number = 4
)

// Frame is the opaque byte sequence the fabric forwards, plus its
// parsed header. The header is read-only at the core layer; Payload is
// forwarded as owned bytes without further inspection.
type Frame struct {
	Kind     Kind
	Key      idhash.ServiceKey
	ClientID idhash.ClientID
	Payload  []byte
}

// Encode serializes f into a self-describing byte sequence.
func Encode(f Frame) []byte {
	var b []byte
	b = protowire.AppendTag(b, tagKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Kind))
	b = protowire.AppendTag(b, tagKey, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Key))
	b = protowire.AppendTag(b, tagClient, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.ClientID))
	b = protowire.AppendTag(b, tagPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, f.Payload)
	return b
}

// Decode parses the header out of raw bytes. The returned Payload is a copy
// that does not share memory with raw.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	var haveKind, haveKey, haveClient bool
	b := raw
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Frame{}, fmt.Errorf("frame: bad tag (code %d)", n)
		}
		b = b[n:]
		switch num {
		case tagKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Frame{}, fmt.Errorf("frame: bad kind (code %d)", n)
			}
			f.Kind = Kind(v)
			haveKind = true
			b = b[n:]
		case tagKey:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Frame{}, fmt.Errorf("frame: bad key (code %d)", n)
			}
			f.Key = idhash.ServiceKey(v)
			haveKey = true
			b = b[n:]
		case tagClient:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Frame{}, fmt.Errorf("frame: bad client id (code %d)", n)
			}
			f.ClientID = idhash.ClientID(v)
			haveClient = true
			b = b[n:]
		case tagPayload:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Frame{}, fmt.Errorf("frame: bad payload (code %d)", n)
			}
			// own a copy: the input slice's lifetime is the caller's.
			f.Payload = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Frame{}, fmt.Errorf("frame: bad field %d (code %d)", num, n)
			}
			b = b[n:]
		}
	}
	if !haveKind || !haveKey || !haveClient {
		return Frame{}, fmt.Errorf("frame: missing required header field")
	}
	return f, nil
}
