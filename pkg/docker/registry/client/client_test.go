package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipengqi/registry-api/pkg/docker/registry/manifest"
	"github.com/shipengqi/registry-api/pkg/metrics"
)

const testRepo = "croudtech/core"

// v1ManifestWithLabel builds a schema 1 manifest whose first history entry
// carries label X=value.
func v1ManifestWithLabel(tag, value string) string {
	compat, _ := json.Marshal(map[string]interface{}{
		"id":     "id-" + tag,
		"config": map[string]interface{}{"Labels": map[string]string{"X": value}},
	})
	doc, _ := json.Marshal(map[string]interface{}{
		"schemaVersion": 1,
		"name":          testRepo,
		"tag":           tag,
		"history": []map[string]string{
			{"v1Compatibility": string(compat)},
			{"v1Compatibility": `{"id":"base"}`},
		},
	})
	return string(doc)
}

// registry answers tag and manifest requests for testRepo from memory.
type registry struct {
	tags      []string
	manifests map[string]string
}

func (reg *registry) handle(req *Request) (*Response, error) {
	if req.Method == http.MethodGet && req.URL == "/v2/"+testRepo+"/tags/list" {
		body, _ := json.Marshal(TagList{Name: testRepo, Tags: reg.tags})
		return response(http.StatusOK, string(body)), nil
	}
	prefix := "/v2/" + testRepo + "/manifests/"
	if req.Method == http.MethodGet && strings.HasPrefix(req.URL, prefix) {
		if body, ok := reg.manifests[strings.TrimPrefix(req.URL, prefix)]; ok {
			return response(http.StatusOK, body), nil
		}
		return response(http.StatusNotFound, `{"errors":[{"code":"MANIFEST_UNKNOWN"}]}`), nil
	}
	return nil, fmt.Errorf("unexpected request %s %s", req.Method, req.URL)
}

func newTestClient(t *testing.T, transport Transport, m *metrics.Metrics) *Client {
	t.Helper()
	c, err := New(Options{Transport: transport, Repository: testRepo, Metrics: m})
	require.NoError(t, err)
	return c
}

func TestNewRequiresRepository(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestListTags(t *testing.T) {
	transport := newFakeTransport(
		response(http.StatusOK, testTagList),
		response(http.StatusOK, `{"name":"croudtech/core","tags":["3.0.0"]}`),
	)
	m := metrics.New(nil)
	c := newTestClient(t, transport, m)
	ctx := context.Background()

	tags, err := c.ListTags(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"2.21.3", "2.22.1", "2.23.0"}, tags)

	tags[0] = "mutated"
	tags, err = c.ListTags(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"2.21.3", "2.22.1", "2.23.0"}, tags)
	assert.Len(t, transport.calls(), 1)

	tags, err = c.ListTags(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"3.0.0"}, tags)
	assert.Len(t, transport.calls(), 2)

	tags, err = c.ListTags(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"3.0.0"}, tags)
	assert.Len(t, transport.calls(), 2)

	assert.Equal(t, "/v2/croudtech/core/tags/list", transport.calls()[0].URL)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups().WithLabelValues("tags", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups().WithLabelValues("tags", "miss")))
}

func TestListTagsPagination(t *testing.T) {
	first := response(http.StatusOK, `{"name":"croudtech/core","tags":["a","b"]}`)
	first.Header.Set("Link", `</v2/croudtech/core/tags/list?last=b&n=2>; rel="next"`)
	transport := newFakeTransport(
		first,
		response(http.StatusOK, `{"name":"croudtech/core","tags":["c"]}`),
	)
	c := newTestClient(t, transport, nil)

	tags, err := c.ListTags(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, tags)
	require.Len(t, transport.calls(), 2)
	assert.Equal(t, "/v2/croudtech/core/tags/list?last=b&n=2", transport.calls()[1].URL)
}

func TestListTagsPaginationLoop(t *testing.T) {
	transport := newFakeTransport()
	transport.handler = func(req *Request) (*Response, error) {
		res := response(http.StatusOK, `{"name":"croudtech/core","tags":["a"]}`)
		res.Header.Set("Link", `</v2/croudtech/core/tags/list?last=a>; rel="next"`)
		return res, nil
	}
	c := newTestClient(t, transport, nil)

	tags, err := c.ListTags(context.Background(), false)
	require.Error(t, err)
	assert.Nil(t, tags)
	assert.True(t, errors.Is(err, RegistryResponseInvalidErr), "got %v", err)
	assert.Contains(t, err.Error(), "repeats")
	assert.Len(t, transport.calls(), 2)

	_, cached := c.cache.Get(tagsCacheKey)
	assert.False(t, cached)
}

func TestListTagsInvalidResponse(t *testing.T) {
	tests := []struct {
		name string
		res  *Response
	}{
		{"not found", response(http.StatusNotFound, `{"errors":[{"code":"NAME_UNKNOWN"}]}`)},
		{"server error", response(http.StatusBadGateway, "")},
		{"unparsable body", response(http.StatusOK, "<html>")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, newFakeTransport(tt.res), nil)

			tags, err := c.ListTags(context.Background(), false)
			require.Error(t, err)
			assert.Nil(t, tags)
			assert.True(t, errors.Is(err, RegistryResponseInvalidErr), "got %v", err)
			assert.Contains(t, err.Error(), "invalid response from registry")
		})
	}
}

func TestListTagsEmpty(t *testing.T) {
	c := newTestClient(t, newFakeTransport(response(http.StatusOK, `{"name":"croudtech/core","tags":null}`)), nil)

	tags, err := c.ListTags(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestGetManifest(t *testing.T) {
	reg := &registry{manifests: map[string]string{
		"1.0": v1ManifestWithLabel("1.0", "a"),
		"2.0": v1ManifestWithLabel("2.0", "b"),
	}}
	transport := newFakeTransport()
	transport.handler = reg.handle
	m := metrics.New(nil)
	c := newTestClient(t, transport, m)
	ctx := context.Background()

	first, err := c.GetManifest(ctx, "1.0", false)
	require.NoError(t, err)
	assert.Equal(t, "1.0", first.Tag())
	assert.Equal(t, "a", first.Labels()["X"])

	accept := transport.calls()[0].Header.Values("Accept")
	assert.Contains(t, accept, manifest.MediaTypeV1Signed)
	assert.Contains(t, accept, manifest.MediaTypeV1)

	again, err := c.GetManifest(ctx, "1.0", false)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, transport.callsTo(http.MethodGet, "/v2/croudtech/core/manifests/1.0"))

	_, err = c.GetManifest(ctx, "2.0", false)
	require.NoError(t, err)
	assert.Equal(t, 1, transport.callsTo(http.MethodGet, "/v2/croudtech/core/manifests/2.0"))

	reg.manifests["1.0"] = v1ManifestWithLabel("1.0", "changed")
	refetched, err := c.GetManifest(ctx, "1.0", true)
	require.NoError(t, err)
	assert.Equal(t, "changed", refetched.Labels()["X"])
	assert.Equal(t, 2, transport.callsTo(http.MethodGet, "/v2/croudtech/core/manifests/1.0"))

	cached, err := c.GetManifest(ctx, "2.0", false)
	require.NoError(t, err)
	assert.Equal(t, "b", cached.Labels()["X"])
	assert.Equal(t, 1, transport.callsTo(http.MethodGet, "/v2/croudtech/core/manifests/2.0"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups().WithLabelValues("manifests", "hit")))
}

func TestGetManifestErrors(t *testing.T) {
	tests := []struct {
		name string
		res  *Response
		want error
	}{
		{"unknown tag", response(http.StatusNotFound, `{"errors":[{"code":"MANIFEST_UNKNOWN"}]}`), RegistryResponseInvalidErr},
		{"schema 2", response(http.StatusOK, `{"schemaVersion":2,"mediaType":"application/vnd.docker.distribution.manifest.v2+json"}`), UnsupportedSchemaVersionErr},
		{"no schema version", response(http.StatusOK, `{"name":"croudtech/core"}`), ManifestParseFailedErr},
		{"malformed", response(http.StatusOK, `{"schemaVersion":1,`), ManifestParseFailedErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := newFakeTransport(tt.res, tt.res)
			c := newTestClient(t, transport, nil)

			m, err := c.GetManifest(context.Background(), "latest", false)
			require.Error(t, err)
			assert.Nil(t, m)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			_, err = c.GetManifest(context.Background(), "latest", false)
			require.Error(t, err)
			assert.Len(t, transport.calls(), 2, "failures must not be cached")
		})
	}
}

func TestSearchLabels(t *testing.T) {
	newRegistry := func(values ...string) *registry {
		reg := &registry{manifests: map[string]string{}}
		for i, v := range values {
			tag := fmt.Sprintf("1.%d", i)
			reg.tags = append(reg.tags, tag)
			reg.manifests[tag] = v1ManifestWithLabel(tag, v)
		}
		return reg
	}

	t.Run("yields the only match", func(t *testing.T) {
		transport := newFakeTransport()
		transport.handler = newRegistry("a", "b", "c", "match").handle
		c := newTestClient(t, transport, nil)

		s := c.SearchLabels(context.Background(), "X", "match")
		var found []string
		for s.Next() {
			found = append(found, s.Tag())
			v, _ := s.Manifest().Label("X")
			assert.Equal(t, "match", v)
		}
		require.NoError(t, s.Err())
		assert.Equal(t, []string{"1.3"}, found)
		assert.False(t, s.Next(), "the search is not restartable")
	})

	t.Run("no match", func(t *testing.T) {
		transport := newFakeTransport()
		transport.handler = newRegistry("a", "b", "c", "d").handle
		c := newTestClient(t, transport, nil)

		s := c.SearchLabels(context.Background(), "X", "match")
		assert.False(t, s.Next())
		assert.NoError(t, s.Err())
		assert.Nil(t, s.Manifest())
		scanned, total := s.Scanned()
		assert.Equal(t, 4, scanned)
		assert.Equal(t, 4, total)
	})

	t.Run("manifests are fetched as the search advances", func(t *testing.T) {
		transport := newFakeTransport()
		transport.handler = newRegistry("match", "a", "match", "b").handle
		c := newTestClient(t, transport, nil)

		s := c.SearchLabels(context.Background(), "X", "match")
		assert.Empty(t, transport.calls(), "nothing is fetched before Next")

		require.True(t, s.Next())
		assert.Equal(t, "1.0", s.Tag())
		assert.Len(t, transport.calls(), 2)

		require.True(t, s.Next())
		assert.Equal(t, "1.2", s.Tag())
		assert.Len(t, transport.calls(), 4)

		assert.False(t, s.Next())
		calls := transport.calls()
		require.Len(t, calls, 5)
		for i, tag := range []string{"1.0", "1.1", "1.2", "1.3"} {
			assert.Equal(t, "/v2/croudtech/core/manifests/"+tag, calls[i+1].URL)
		}
	})

	t.Run("cached manifests are reused", func(t *testing.T) {
		transport := newFakeTransport()
		transport.handler = newRegistry("a", "match").handle
		c := newTestClient(t, transport, nil)

		for i := 0; i < 2; i++ {
			s := c.SearchLabels(context.Background(), "X", "match")
			require.True(t, s.Next())
			assert.False(t, s.Next())
		}
		assert.Len(t, transport.calls(), 3)
	})

	t.Run("missing label path is not a match", func(t *testing.T) {
		reg := newRegistry("match")
		reg.tags = append(reg.tags, "bare", "nolabels")
		reg.manifests["bare"] = `{"schemaVersion":1,"history":[]}`
		reg.manifests["nolabels"] = `{"schemaVersion":1,"history":[{"v1Compatibility":"{\"config\":{}}"}]}`
		transport := newFakeTransport()
		transport.handler = reg.handle
		c := newTestClient(t, transport, nil)

		s := c.SearchLabels(context.Background(), "X", "match")
		require.True(t, s.Next())
		assert.Equal(t, "1.0", s.Tag())
		assert.False(t, s.Next())
		assert.NoError(t, s.Err())
	})

	t.Run("errors stop the search", func(t *testing.T) {
		reg := newRegistry("a", "b", "match")
		delete(reg.manifests, "1.1")
		transport := newFakeTransport()
		transport.handler = reg.handle
		c := newTestClient(t, transport, nil)

		s := c.SearchLabels(context.Background(), "X", "match")
		assert.False(t, s.Next())
		require.Error(t, s.Err())
		assert.True(t, errors.Is(s.Err(), RegistryResponseInvalidErr))
		assert.Contains(t, s.Err().Error(), "1.1")
		assert.False(t, s.Next())
		assert.Equal(t, 0, transport.callsTo(http.MethodGet, "/v2/croudtech/core/manifests/1.2"))
	})

	t.Run("tag list errors are reported", func(t *testing.T) {
		c := newTestClient(t, newFakeTransport(response(http.StatusInternalServerError, "")), nil)

		s := c.SearchLabels(context.Background(), "X", "match")
		assert.False(t, s.Next())
		assert.True(t, errors.Is(s.Err(), RegistryResponseInvalidErr))
	})

	t.Run("cancelled context stops the search", func(t *testing.T) {
		transport := newFakeTransport()
		transport.handler = newRegistry("match", "match").handle
		c := newTestClient(t, transport, nil)
		ctx, cancel := context.WithCancel(context.Background())

		s := c.SearchLabels(ctx, "X", "match")
		require.True(t, s.Next())
		cancel()
		assert.False(t, s.Next())
		assert.True(t, errors.Is(s.Err(), context.Canceled))
	})
}

func TestReTag(t *testing.T) {
	m, err := manifest.Decode([]byte(v1ManifestWithLabel("1.0", "a")))
	require.NoError(t, err)
	want, err := manifest.Encode(m)
	require.NoError(t, err)

	t.Run("puts the encoded manifest", func(t *testing.T) {
		transport := newFakeTransport(response(http.StatusCreated, ""))
		c := newTestClient(t, transport, nil)

		res, err := c.ReTag(context.Background(), m, "stable")
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, res.StatusCode)

		calls := transport.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, http.MethodPut, calls[0].Method)
		assert.Equal(t, "/v2/croudtech/core/manifests/stable", calls[0].URL)
		assert.Equal(t, manifest.MediaTypeV1, calls[0].Header.Get("Content-Type"))
		assert.Equal(t, string(want), string(calls[0].Body))
	})

	t.Run("authenticates and resends the body", func(t *testing.T) {
		transport := newFakeTransport(
			challenge(`Bearer realm="https://auth.docker.io/token",service="registry.docker.io",scope="repository:croudtech/core:pull,push"`),
			response(http.StatusOK, `{"access_token":"push"}`),
			response(http.StatusCreated, ""),
		)
		c := newTestClient(t, transport, nil)

		_, err := c.ReTag(context.Background(), m, "stable")
		require.NoError(t, err)
		calls := transport.calls()
		require.Len(t, calls, 3)
		assert.Equal(t, string(want), string(calls[2].Body))
		assert.Equal(t, "Bearer push", calls[2].Header.Get("Authorization"))
	})

	t.Run("invalidates the cached manifest of the new tag", func(t *testing.T) {
		reg := &registry{manifests: map[string]string{"stable": v1ManifestWithLabel("stable", "old")}}
		transport := newFakeTransport()
		transport.handler = func(req *Request) (*Response, error) {
			if req.Method == http.MethodPut {
				reg.manifests["stable"] = string(req.Body)
				return response(http.StatusCreated, ""), nil
			}
			return reg.handle(req)
		}
		c := newTestClient(t, transport, nil)

		old, err := c.GetManifest(context.Background(), "stable", false)
		require.NoError(t, err)
		assert.Equal(t, "old", old.Labels()["X"])

		_, err = c.ReTag(context.Background(), m, "stable")
		require.NoError(t, err)

		current, err := c.GetManifest(context.Background(), "stable", false)
		require.NoError(t, err)
		assert.Equal(t, "a", current.Labels()["X"])
	})

	t.Run("rejected push", func(t *testing.T) {
		transport := newFakeTransport(response(http.StatusBadRequest, `{"errors":[{"code":"MANIFEST_INVALID"}]}`))
		c := newTestClient(t, transport, nil)

		res, err := c.ReTag(context.Background(), m, "stable")
		require.Error(t, err)
		assert.True(t, errors.Is(err, RegistryResponseInvalidErr))
		require.NotNil(t, res)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})

	t.Run("schema 2 is refused before sending", func(t *testing.T) {
		transport := newFakeTransport()
		c := newTestClient(t, transport, nil)

		_, err := c.ReTag(context.Background(), manifest.Manifest{"schemaVersion": 2}, "stable")
		require.Error(t, err)
		assert.True(t, errors.Is(err, UnsupportedSchemaVersionErr))
		assert.Empty(t, transport.calls())
	})
}

func TestPrefetch(t *testing.T) {
	reg := &registry{tags: []string{"1.0", "1.1", "1.2"}, manifests: map[string]string{
		"1.0": v1ManifestWithLabel("1.0", "a"),
		"1.1": v1ManifestWithLabel("1.1", "b"),
		"1.2": v1ManifestWithLabel("1.2", "c"),
	}}
	transport := newFakeTransport()
	transport.handler = reg.handle
	c := newTestClient(t, transport, nil)

	require.NoError(t, c.Prefetch(context.Background(), 2))
	assert.Len(t, transport.calls(), 4)

	for _, tag := range reg.tags {
		_, err := c.GetManifest(context.Background(), tag, false)
		require.NoError(t, err)
	}
	assert.Len(t, transport.calls(), 4)
}

func TestPrefetchError(t *testing.T) {
	reg := &registry{tags: []string{"1.0", "missing"}, manifests: map[string]string{
		"1.0": v1ManifestWithLabel("1.0", "a"),
	}}
	transport := newFakeTransport()
	transport.handler = reg.handle
	c := newTestClient(t, transport, nil)

	err := c.Prefetch(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, RegistryResponseInvalidErr))
}

func TestDigest(t *testing.T) {
	m, err := manifest.Decode([]byte(v1ManifestWithLabel("1.0", "a")))
	require.NoError(t, err)
	body, err := manifest.Encode(m)
	require.NoError(t, err)

	d, err := Digest(m)
	require.NoError(t, err)
	assert.Equal(t, "sha256", d.Algorithm().String())
	assert.NoError(t, d.Validate())
	assert.Equal(t, digest.FromBytes(body), d)

	_, err = Digest(manifest.Manifest{"schemaVersion": 2})
	assert.True(t, errors.Is(err, UnsupportedSchemaVersionErr))
}
