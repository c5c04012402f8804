package manifest

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

type schema1 struct{}

func (schema1) decode(doc map[string]interface{}) (Manifest, error) {
	m := make(Manifest, len(doc))
	for k, v := range doc {
		m[k] = v
	}
	raw, ok := doc[keyHistory]
	if !ok || raw == nil {
		return m, nil
	}
	history, ok := raw.([]interface{})
	if !ok {
		return nil, errors.Wrapf(ErrParseFailed, "history has type %T", raw)
	}

	decoded := make([]interface{}, len(history))
	for i, e := range history {
		entry, ok := e.(map[string]interface{})
		if !ok {
			return nil, errors.Wrapf(ErrParseFailed, "history[%d] has type %T", i, e)
		}
		out := make(map[string]interface{}, len(entry))
		for k, v := range entry {
			out[k] = v
		}
		if s, ok := entry[keyV1Compatibility].(string); ok {
			var compat interface{}
			if err := unmarshal([]byte(s), &compat); err != nil {
				return nil, errors.Wrapf(ErrParseFailed, "history[%d].v1Compatibility: %v", i, err)
			}
			// a decoded string could not be told apart from an encoded one
			if _, ok := compat.(string); ok {
				return nil, errors.Wrapf(ErrParseFailed, "history[%d].v1Compatibility holds a JSON string", i)
			}
			out[keyV1Compatibility] = compat
		}
		decoded[i] = out
	}
	m[keyHistory] = decoded
	return m, nil
}

func (schema1) encode(m Manifest) ([]byte, error) {
	doc := make(map[string]interface{}, len(m))
	for k, v := range m {
		doc[k] = v
	}
	if history, ok := m[keyHistory].([]interface{}); ok {
		encoded := make([]interface{}, len(history))
		for i, e := range history {
			entry, ok := e.(map[string]interface{})
			if !ok {
				encoded[i] = e
				continue
			}
			out := make(map[string]interface{}, len(entry))
			for k, v := range entry {
				out[k] = v
			}
			if compat, ok := entry[keyV1Compatibility]; ok {
				if _, isString := compat.(string); !isString {
					b, err := marshal(compat)
					if err != nil {
						return nil, errors.Wrapf(err, "encode history[%d].v1Compatibility", i)
					}
					out[keyV1Compatibility] = string(b)
				}
			}
			encoded[i] = out
		}
		doc[keyHistory] = encoded
	}
	b, err := marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "encode manifest")
	}
	return b, nil
}

// marshal is json.Marshal without HTML escaping, so shell snippets such as
// "a && b" in history survive unchanged.
func marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
