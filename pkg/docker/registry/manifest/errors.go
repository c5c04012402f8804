package manifest

import "github.com/pkg/errors"

var (
	// ErrParseFailed is returned for malformed JSON or a document without schemaVersion.
	ErrParseFailed = errors.New("manifest parse failed")
	// ErrUnsupportedSchemaVersion is returned for schema versions the codec does not handle.
	ErrUnsupportedSchemaVersion = errors.New("unsupported schema version")
)
