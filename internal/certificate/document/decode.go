package document

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"

	"hcert/internal/certificate/certerr"
)

const maxNestedLevels = 16

var decMode = mustDecMode()

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DupMapKey:            cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels:      maxNestedLevels,
		IntDec:               cbor.IntDecConvertNone,
		UnrecognizedTagToAny: cbor.UnrecognizedTagContentToAny,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// Decode parses a CBOR payload into a Node tree. Trailing bytes, duplicate map keys,
// unsupported map key types and integers outside the int64 range are rejected.
func Decode(payload []byte) (Node, error) {
	if len(payload) == 0 {
		return Node{}, certerr.New(certerr.KindDocumentFormat, "empty payload", nil)
	}
	var v any
	if err := decMode.Unmarshal(payload, &v); err != nil {
		return Node{}, certerr.New(certerr.KindDocumentFormat, "decode cbor", err)
	}
	n, err := fromValue(v)
	if err != nil {
		return Node{}, certerr.New(certerr.KindDocumentFormat, err.Error(), nil)
	}
	return n, nil
}

func fromValue(v any) (Node, error) {
	switch t := v.(type) {
	case nil:
		return Node{kind: KindNull}, nil
	case bool:
		return Node{kind: KindBool, b: t}, nil
	case uint64:
		if t > math.MaxInt64 {
			return Node{}, fmt.Errorf("integer %d out of range", t)
		}
		return Node{kind: KindInt, i: int64(t)}, nil
	case int64:
		return Node{kind: KindInt, i: t}, nil
	case big.Int:
		return Node{}, fmt.Errorf("integer %s out of range", t.String())
	case float64:
		return Node{kind: KindFloat, f: t}, nil
	case float32:
		return Node{kind: KindFloat, f: float64(t)}, nil
	case string:
		return Node{kind: KindText, s: t}, nil
	case []byte:
		return Node{kind: KindBytes, raw: t}, nil
	case time.Time:
		return Node{kind: KindInt, i: t.Unix()}, nil
	case cbor.Tag:
		return fromValue(t.Content)
	case []any:
		items := make([]Node, len(t))
		for i, item := range t {
			n, err := fromValue(item)
			if err != nil {
				return Node{}, err
			}
			items[i] = n
		}
		return Node{kind: KindArray, items: items}, nil
	case map[any]any:
		entries := make(map[Key]Node, len(t))
		for k, item := range t {
			key, err := toKey(k)
			if err != nil {
				return Node{}, err
			}
			n, err := fromValue(item)
			if err != nil {
				return Node{}, err
			}
			entries[key] = n
		}
		return Node{kind: KindMap, entries: entries}, nil
	default:
		return Node{}, fmt.Errorf("unsupported cbor value of type %T", v)
	}
}

func toKey(k any) (Key, error) {
	switch t := k.(type) {
	case string:
		return TextKey(t), nil
	case int64:
		return IntKey(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return Key{}, fmt.Errorf("map key %d out of range", t)
		}
		return IntKey(int64(t)), nil
	default:
		return Key{}, fmt.Errorf("unsupported map key of type %T", k)
	}
}
