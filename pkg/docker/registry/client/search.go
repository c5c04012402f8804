package client

import (
	"context"

	"github.com/pkg/errors"

	"github.com/shipengqi/registry-api/pkg/docker/registry/manifest"
)

// LabelSearch walks the repository tags once and stops at every manifest
// whose first history entry carries the wanted label value. Manifests are
// fetched one by one as the search advances.
//
//	s := c.SearchLabels(ctx, "com.example.release", "stable")
//	for s.Next() {
//		fmt.Println(s.Tag())
//	}
//	if err := s.Err(); err != nil {
//		...
//	}
type LabelSearch struct {
	ctx    context.Context
	client *Client
	key    string
	value  string

	tags   []string
	listed bool
	pos    int
	done   bool

	tag      string
	manifest manifest.Manifest
	err      error
}

// SearchLabels returns a search for manifests labelled key=value.
func (c *Client) SearchLabels(ctx context.Context, key, value string) *LabelSearch {
	return &LabelSearch{ctx: ctx, client: c, key: key, value: value}
}

// Next advances to the next matching manifest. It returns false when the
// tags are exhausted or an error stopped the search.
func (s *LabelSearch) Next() bool {
	s.tag, s.manifest = "", nil
	if s.done {
		return false
	}
	if !s.listed {
		tags, err := s.client.ListTags(s.ctx, false)
		if err != nil {
			return s.fail(err)
		}
		s.tags, s.listed = tags, true
	}

	for s.pos < len(s.tags) {
		if err := s.ctx.Err(); err != nil {
			return s.fail(err)
		}
		tag := s.tags[s.pos]
		s.pos++

		m, err := s.client.GetManifest(s.ctx, tag, false)
		if err != nil {
			return s.fail(errors.Wrapf(err, "search tag %s", tag))
		}
		if v, ok := m.Label(s.key); ok && v == s.value {
			s.tag, s.manifest = tag, m
			return true
		}
	}
	s.done = true
	return false
}

func (s *LabelSearch) fail(err error) bool {
	s.err, s.done = err, true
	return false
}

// Tag returns the tag of the current match.
func (s *LabelSearch) Tag() string {
	return s.tag
}

// Manifest returns the current match.
func (s *LabelSearch) Manifest() manifest.Manifest {
	return s.manifest
}

// Scanned returns how many tags have been looked at and how many there are.
func (s *LabelSearch) Scanned() (int, int) {
	return s.pos, len(s.tags)
}

// Err returns the error that stopped the search, if any.
func (s *LabelSearch) Err() error {
	return s.err
}
