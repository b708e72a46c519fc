package docmodel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/cuemby/aerolithdb/pkg/errs"
)

// codecVersion is the single byte prefixed to every encoded record.
// Bumped whenever the wire shape changes in a way that isn't
// backward-compatible; unknown versions are rejected rather than
// guessed at.
const codecVersion byte = 1

type wireRecord struct {
	Collection string          `json:"collection"`
	DocumentID string          `json:"document_id"`
	Version    uint64          `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Data       json.RawMessage `json:"data"`
}

// Encode serializes a Record into a self-describing byte string: a
// single version byte followed by JSON. encoding/json sorts map keys on
// marshal, which gives byte-stable output for two nodes encoding the
// same document (required for content hashing in the Byzantine
// component).
func Encode(r Record) ([]byte, error) {
	dataJSON, err := json.Marshal(toJSONValue(r.Data))
	if err != nil {
		return nil, fmt.Errorf("encode document body: %w", err)
	}

	wire := wireRecord{
		Collection: r.Collection,
		DocumentID: r.DocumentID,
		Version:    r.Version,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		Data:       dataJSON,
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode record envelope: %w", err)
	}

	out := make([]byte, 0, len(body)+1)
	out = append(out, codecVersion)
	out = append(out, body...)
	return out, nil
}

// Decode is the inverse of Encode.
func Decode(raw []byte) (Record, error) {
	if len(raw) == 0 {
		return Record{}, fmt.Errorf("%w: empty payload", errs.ErrUnsupportedEncoding)
	}
	version, body := raw[0], raw[1:]
	if version != codecVersion {
		return Record{}, fmt.Errorf("%w: got version %d, want %d", errs.ErrUnsupportedEncoding, version, codecVersion)
	}

	var wire wireRecord
	if err := json.Unmarshal(body, &wire); err != nil {
		return Record{}, fmt.Errorf("decode record envelope: %w", err)
	}

	data, err := fromJSONBytes(wire.Data)
	if err != nil {
		return Record{}, fmt.Errorf("decode document body: %w", err)
	}

	return Record{
		Collection: wire.Collection,
		DocumentID: wire.DocumentID,
		Data:       data,
		Version:    wire.Version,
		CreatedAt:  wire.CreatedAt,
		UpdatedAt:  wire.UpdatedAt,
	}, nil
}

// MarshalFilterJSON serializes a bare Document tree (no record envelope,
// no version byte) to plain JSON. Used by pkg/rpc's Query fan-out, which
// needs to carry a filter predicate — not a stored record — across the
// wire.
func MarshalFilterJSON(d Document) ([]byte, error) {
	return json.Marshal(toJSONValue(d))
}

// UnmarshalFilterJSON is the inverse of MarshalFilterJSON.
func UnmarshalFilterJSON(raw []byte) (Document, error) {
	return fromJSONBytes(raw)
}

// toJSONValue converts a Document into the plain Go value tree that
// encoding/json understands (map[string]any, []any, etc).
func toJSONValue(d Document) interface{} {
	switch d.Kind {
	case KindNull:
		return nil
	case KindBool:
		return d.Bool
	case KindInt:
		return d.Int
	case KindFloat:
		// A whole-valued float keeps a ".0" so it decodes back as a
		// float rather than an int.
		if d.Float == math.Trunc(d.Float) && !math.IsInf(d.Float, 0) {
			return json.Number(strconv.FormatFloat(d.Float, 'f', 1, 64))
		}
		return d.Float
	case KindString:
		return d.Str
	case KindArray:
		arr := make([]interface{}, len(d.Array))
		for i, item := range d.Array {
			arr[i] = toJSONValue(item)
		}
		return arr
	case KindMap:
		m := make(map[string]interface{}, len(d.Map))
		for k, v := range d.Map {
			m[k] = toJSONValue(v)
		}
		return m
	default:
		return nil
	}
}

// fromJSONBytes decodes raw JSON into a Document, using json.Number so
// that integers and floats remain distinguishable.
func fromJSONBytes(raw json.RawMessage) (Document, error) {
	if len(raw) == 0 {
		return Null(), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return Document{}, err
	}
	return fromJSONValue(v), nil
}

func fromJSONValue(v interface{}) Document {
	switch val := v.(type) {
	case nil:
		return Null()
	case bool:
		return BoolVal(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return IntVal(i)
		}
		f, _ := val.Float64()
		return FloatVal(f)
	case string:
		return StringVal(val)
	case []interface{}:
		items := make([]Document, len(val))
		for i, item := range val {
			items[i] = fromJSONValue(item)
		}
		return Document{Kind: KindArray, Array: items}
	case map[string]interface{}:
		m := make(map[string]Document, len(val))
		for k, item := range val {
			m[k] = fromJSONValue(item)
		}
		return Document{Kind: KindMap, Map: m}
	default:
		return Null()
	}
}
