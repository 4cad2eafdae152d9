// Package canonical produces the canonical serialization and content hash of
// structured payloads.
//
// Canonicalization is the mandatory choke point before any hashing, id
// derivation or signing. Equal logical data (regardless of field insertion
// order) yields equal bytes; any single-bit change in any field changes the
// digest.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"xdao.co/glyphvault/model"
)

// Serialize returns the canonical JSON encoding of data.
//
// Rules:
//   - object keys sorted lexicographically by UTF-8 bytes, at every depth
//   - no insignificant whitespace
//   - numbers rendered exactly as their JSON source text (values are passed
//     through encoding/json with UseNumber, so 1 and 1.0 stay distinct)
//   - strings escaped by encoding/json
//
// Arbitrary Go values are accepted; they are first projected through
// encoding/json so struct inputs and map inputs with identical JSON shape
// canonicalize identically.
func Serialize(data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, model.WrapError(model.KindCanonical, "GV-CANON-001", "payload is not JSON-serializable", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, model.WrapError(model.KindCanonical, "GV-CANON-002", "payload re-decode failed", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the hex-encoded sha2-256 digest of the canonical
// serialization of data.
func Hash(data any) (string, error) {
	canon, err := Serialize(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		enc, err := json.Marshal(t)
		if err != nil {
			return model.WrapError(model.KindCanonical, "GV-CANON-003", "string encoding failed", err)
		}
		buf.Write(enc)
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return model.WrapError(model.KindCanonical, "GV-CANON-003", "key encoding failed", err)
			}
			buf.Write(enc)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return model.NewError(model.KindCanonical, "GV-CANON-004", fmt.Sprintf("unsupported value type %T", v))
	}
	return nil
}
