package manifest

import "github.com/pkg/errors"

// TODO: decode schema 2 manifests once the client requests application/vnd.docker.distribution.manifest.v2+json.
type schema2 struct{}

func (schema2) decode(map[string]interface{}) (Manifest, error) {
	return nil, errors.Wrap(ErrUnsupportedSchemaVersion, "schema version 2 decoding is not implemented")
}

func (schema2) encode(Manifest) ([]byte, error) {
	return nil, errors.Wrap(ErrUnsupportedSchemaVersion, "schema version 2 encoding is not implemented")
}
