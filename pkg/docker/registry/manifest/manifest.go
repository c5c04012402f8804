// Package manifest decodes and encodes registry image manifests.
//
// Schema 1 manifests carry per-layer metadata in history[].v1Compatibility
// as a JSON string. Decode expands those strings into nested maps and Encode
// folds them back, so a decoded manifest can be edited and pushed again.
// Schema 2 is recognised but not implemented.
package manifest

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

const (
	// MediaTypeV1 is the media type of an unsigned schema 1 manifest.
	MediaTypeV1 = "application/vnd.docker.distribution.manifest.v1+json"
	// MediaTypeV1Signed is the media type of a signed schema 1 manifest.
	MediaTypeV1Signed = "application/vnd.docker.distribution.manifest.v1+prettyjws"
	// MediaTypeV2 is the media type of a schema 2 manifest.
	MediaTypeV2 = "application/vnd.docker.distribution.manifest.v2+json"
)

const (
	keySchemaVersion   = "schemaVersion"
	keyHistory         = "history"
	keyV1Compatibility = "v1Compatibility"
	keySignatures      = "signatures"
	keyConfig          = "config"
	keyLabels          = "Labels"
	keyName            = "name"
	keyTag             = "tag"
)

// Manifest is a decoded manifest document.
type Manifest map[string]interface{}

// SchemaVersion returns the schemaVersion field, or 0 when it is missing or not an integer.
func (m Manifest) SchemaVersion() int {
	v, _ := schemaVersion(m)
	return v
}

// Name returns the repository name recorded in a schema 1 manifest.
func (m Manifest) Name() string {
	s, _ := m[keyName].(string)
	return s
}

// Tag returns the tag recorded in a schema 1 manifest.
func (m Manifest) Tag() string {
	s, _ := m[keyTag].(string)
	return s
}

// History returns the history entries of a schema 1 manifest.
func (m Manifest) History() []map[string]interface{} {
	raw, ok := m[keyHistory].([]interface{})
	if !ok {
		return nil
	}
	entries := make([]map[string]interface{}, 0, len(raw))
	for _, e := range raw {
		if entry, ok := e.(map[string]interface{}); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// V1Compatibility returns the decoded v1Compatibility of history entry i, or nil.
func (m Manifest) V1Compatibility(i int) map[string]interface{} {
	history := m.History()
	if i < 0 || i >= len(history) {
		return nil
	}
	compat, _ := history[i][keyV1Compatibility].(map[string]interface{})
	return compat
}

// Labels returns history[0].v1Compatibility.config.Labels. Missing levels yield nil.
func (m Manifest) Labels() map[string]string {
	config, ok := m.V1Compatibility(0)[keyConfig].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := config[keyLabels].(map[string]interface{})
	if !ok {
		return nil
	}
	labels := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			labels[k] = s
		}
	}
	return labels
}

// Label reports the value of label key and whether it is set.
func (m Manifest) Label(key string) (string, bool) {
	v, ok := m.Labels()[key]
	return v, ok
}

// Signed reports whether the manifest carries JWS signatures.
func (m Manifest) Signed() bool {
	_, ok := m[keySignatures]
	return ok
}

// MediaType returns the content type to use when pushing m.
func (m Manifest) MediaType() string {
	switch m.SchemaVersion() {
	case 1:
		if m.Signed() {
			return MediaTypeV1Signed
		}
		return MediaTypeV1
	case 2:
		return MediaTypeV2
	}
	return ""
}

// Decode parses a raw manifest and decodes it according to its schemaVersion.
func Decode(data []byte) (Manifest, error) {
	var doc map[string]interface{}
	if err := unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(ErrParseFailed, "decode json: %v", err)
	}
	if doc == nil {
		return nil, errors.Wrap(ErrParseFailed, "document is null")
	}
	return FromMap(doc)
}

// FromMap decodes an already parsed manifest document. It is safe to call on
// the output of Decode again.
func FromMap(doc map[string]interface{}) (Manifest, error) {
	version, err := schemaVersion(doc)
	if err != nil {
		return nil, err
	}
	codec, err := codecFor(version)
	if err != nil {
		return nil, err
	}
	return codec.decode(doc)
}

// Encode serializes m back to its wire form. Object keys are written in
// sorted order.
func Encode(m Manifest) ([]byte, error) {
	version, err := schemaVersion(m)
	if err != nil {
		return nil, err
	}
	codec, err := codecFor(version)
	if err != nil {
		return nil, err
	}
	return codec.encode(m)
}

// unmarshal decodes exactly one JSON value from data, keeping numbers as
// json.Number. Trailing input is an error.
func unmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		return errors.New("unexpected data after the JSON value")
	}
	return nil
}

type codec interface {
	decode(doc map[string]interface{}) (Manifest, error)
	encode(m Manifest) ([]byte, error)
}

func codecFor(version int) (codec, error) {
	switch version {
	case 1:
		return schema1{}, nil
	case 2:
		return schema2{}, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedSchemaVersion, "schema version %d", version)
}

func schemaVersion(doc map[string]interface{}) (int, error) {
	raw, ok := doc[keySchemaVersion]
	if !ok {
		return 0, errors.Wrap(ErrParseFailed, "missing schemaVersion")
	}
	switch v := raw.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, errors.Wrapf(ErrParseFailed, "schemaVersion %q is not an integer", v.String())
		}
		return int(n), nil
	case float64:
		if v != float64(int(v)) {
			return 0, errors.Wrapf(ErrParseFailed, "schemaVersion %v is not an integer", v)
		}
		return int(v), nil
	case int:
		return v, nil
	}
	return 0, errors.Wrapf(ErrParseFailed, "schemaVersion has type %T", raw)
}
