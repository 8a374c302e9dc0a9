package eventhub

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// Invocation is one hub frame: a target name and its positional arguments,
// each still in codec encoding.
type Invocation struct {
	Target    string
	Arguments [][]byte
}

// Codec encodes and decodes invocation frames.
type Codec interface {
	// Name identifies the codec in configuration and logs.
	Name() string

	// MessageType is the websocket message type frames travel in.
	MessageType() int

	// Marshal encodes an outgoing invocation.
	Marshal(target string, args ...any) ([]byte, error)

	// Unmarshal splits an incoming frame into target and raw arguments.
	Unmarshal(data []byte) (Invocation, error)

	// UnmarshalArgument decodes a single raw argument into v.
	UnmarshalArgument(raw []byte, v any) error
}

var errEmptyTarget = errors.New("frame has no target")

// CodecByName returns the codec registered under name ("json" or "cbor").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return NewCBORCodec(), nil
	default:
		return nil, fmt.Errorf("unknown hub codec %q", name)
	}
}

// JSONCodec carries frames as {"target": ..., "arguments": [...]} text messages.
type JSONCodec struct{}

type jsonFrame struct {
	Target    string            `json:"target"`
	Arguments []json.RawMessage `json:"arguments"`
}

func (JSONCodec) Name() string     { return "json" }
func (JSONCodec) MessageType() int { return websocket.TextMessage }

func (JSONCodec) Marshal(target string, args ...any) ([]byte, error) {
	f := jsonFrame{Target: target, Arguments: make([]json.RawMessage, len(args))}
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode %s argument %d: %w", target, i, err)
		}
		f.Arguments[i] = b
	}
	return json.Marshal(f)
}

func (JSONCodec) Unmarshal(data []byte) (Invocation, error) {
	var f jsonFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Invocation{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Target == "" {
		return Invocation{}, errEmptyTarget
	}
	inv := Invocation{Target: f.Target, Arguments: make([][]byte, len(f.Arguments))}
	for i, a := range f.Arguments {
		inv.Arguments[i] = a
	}
	return inv, nil
}

func (JSONCodec) UnmarshalArgument(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}

// CBORCodec carries the same frame shape as CBOR in binary messages.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

type cborFrame struct {
	Target    string            `cbor:"target"`
	Arguments []cbor.RawMessage `cbor:"arguments"`
}

// NewCBORCodec returns a codec with deterministic encoding and lenient
// decoding.
func NewCBORCodec() *CBORCodec {
	enc, err := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoder mode: %v", err))
	}
	dec, err := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor decoder mode: %v", err))
	}
	return &CBORCodec{enc: enc, dec: dec}
}

func (*CBORCodec) Name() string     { return "cbor" }
func (*CBORCodec) MessageType() int { return websocket.BinaryMessage }

func (c *CBORCodec) Marshal(target string, args ...any) ([]byte, error) {
	f := cborFrame{Target: target, Arguments: make([]cbor.RawMessage, len(args))}
	for i, a := range args {
		b, err := c.enc.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode %s argument %d: %w", target, i, err)
		}
		f.Arguments[i] = b
	}
	return c.enc.Marshal(f)
}

func (c *CBORCodec) Unmarshal(data []byte) (Invocation, error) {
	var f cborFrame
	if err := c.dec.Unmarshal(data, &f); err != nil {
		return Invocation{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Target == "" {
		return Invocation{}, errEmptyTarget
	}
	inv := Invocation{Target: f.Target, Arguments: make([][]byte, len(f.Arguments))}
	for i, a := range f.Arguments {
		inv.Arguments[i] = a
	}
	return inv, nil
}

func (c *CBORCodec) UnmarshalArgument(raw []byte, v any) error {
	return c.dec.Unmarshal(raw, v)
}
