package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/opencontainers/go-digest"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/shipengqi/registry-api/pkg/docker/registry/manifest"
	"github.com/shipengqi/registry-api/pkg/metrics"
)

// DefaultRegistry is used when Options.Registry is empty.
const DefaultRegistry = "https://index.docker.io"

const (
	tagsCacheKey      = "tags"
	manifestKeyPrefix = "manifest:"
)

var nextLinkRe = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?next"?`)

// Options configures a Client.
type Options struct {
	// Transport defaults to a RestyTransport rooted at Registry.
	Transport Transport
	Registry  string
	Username  string
	APIKey    string
	// Repository is the namespace/name the client works on.
	Repository string
	// AuthURL is a token endpoint to use before any challenge has been seen.
	AuthURL   string
	Timeout   time.Duration
	RateLimit int
	// CacheTTL bounds the lifetime of cached tags and manifests; zero keeps them
	// until refetched.
	CacheTTL time.Duration
	Metrics  *metrics.Metrics
}

// Client talks to one repository of a registry.
type Client struct {
	repository string
	requester  *Requester
	metrics    *metrics.Metrics
	cache      *gocache.Cache
}

// New returns a client for opts.Repository.
func New(opts Options) (*Client, error) {
	if opts.Repository == "" {
		return nil, errors.New("repository is required")
	}
	if opts.Registry == "" {
		opts.Registry = DefaultRegistry
	}
	transport := opts.Transport
	if transport == nil {
		transport = NewRestyTransport(opts.Registry, opts.Timeout, opts.RateLimit)
	}

	var reqOpts []RequesterOption
	if opts.AuthURL != "" {
		reqOpts = append(reqOpts, WithAuthURL(opts.AuthURL))
	}
	if opts.Metrics != nil {
		reqOpts = append(reqOpts, WithMetrics(opts.Metrics))
	}

	ttl, cleanup := gocache.NoExpiration, time.Duration(0)
	if opts.CacheTTL > 0 {
		ttl, cleanup = opts.CacheTTL, 2*opts.CacheTTL
	}

	return &Client{
		repository: opts.Repository,
		requester:  NewRequester(transport, opts.Username, opts.APIKey, reqOpts...),
		metrics:    opts.Metrics,
		cache:      gocache.New(ttl, cleanup),
	}, nil
}

// Repository returns the repository the client works on.
func (c *Client) Repository() string {
	return c.repository
}

// Requester returns the authenticating requester used by c.
func (c *Client) Requester() *Requester {
	return c.requester
}

// ListTags returns the repository tags in registry order. The list is cached
// until refetch is set.
func (c *Client) ListTags(ctx context.Context, refetch bool) ([]string, error) {
	if !refetch {
		if v, ok := c.cache.Get(tagsCacheKey); ok {
			c.metrics.CacheLookup("tags", true)
			return append([]string(nil), v.([]string)...), nil
		}
		c.metrics.CacheLookup("tags", false)
	}

	tags := []string{}
	path := fmt.Sprintf("/v2/%s/tags/list", c.repository)
	visited := map[string]bool{}
	for path != "" {
		if visited[path] {
			return nil, errors.Wrapf(RegistryResponseInvalidErr, "list tags of %s: page %s repeats", c.repository, path)
		}
		visited[path] = true
		res, err := c.requester.Request(ctx, http.MethodGet, path, &RequestOptions{
			Header: http.Header{"Accept": []string{"application/json"}},
		})
		if err != nil {
			return nil, err
		}
		if res.StatusCode != http.StatusOK {
			return nil, invalidResponse(res, "list tags of "+c.repository)
		}
		list := &TagList{}
		if err := json.Unmarshal(res.Body, list); err != nil {
			return nil, errors.Wrapf(RegistryResponseInvalidErr, "decode tag list of %s: %v", c.repository, err)
		}
		tags = append(tags, list.Tags...)
		path = nextPage(res)
	}

	logrus.WithFields(logrus.Fields{
		"repository": c.repository,
		"tags":       len(tags),
	}).Debug("Fetched tag list")
	c.cache.Set(tagsCacheKey, tags, gocache.DefaultExpiration)
	return append([]string(nil), tags...), nil
}

// nextPage returns the next page from a Link header, or "".
func nextPage(res *Response) string {
	m := nextLinkRe.FindStringSubmatch(res.Header.Get("Link"))
	if m == nil {
		return ""
	}
	return m[1]
}

// GetManifest returns the decoded manifest of tag. Decoded manifests are
// cached per tag and shared between callers until refetched.
func (c *Client) GetManifest(ctx context.Context, tag string, refetch bool) (manifest.Manifest, error) {
	key := manifestKeyPrefix + tag
	if !refetch {
		if v, ok := c.cache.Get(key); ok {
			c.metrics.CacheLookup("manifests", true)
			return v.(manifest.Manifest), nil
		}
		c.metrics.CacheLookup("manifests", false)
	}

	res, err := c.requester.Request(ctx, http.MethodGet, c.manifestPath(tag), &RequestOptions{
		Header: http.Header{"Accept": []string{manifest.MediaTypeV1Signed, manifest.MediaTypeV1}},
	})
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, invalidResponse(res, fmt.Sprintf("get manifest %s:%s", c.repository, tag))
	}
	m, err := manifest.Decode(res.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "manifest %s:%s", c.repository, tag)
	}
	c.cache.Set(key, m, gocache.DefaultExpiration)
	return m, nil
}

// ReTag pushes m under newTag. Only schema 1 manifests can be pushed. A
// non-2xx answer is returned together with a RegistryResponseInvalidErr.
func (c *Client) ReTag(ctx context.Context, m manifest.Manifest, newTag string) (*Response, error) {
	if v := m.SchemaVersion(); v != 1 {
		return nil, errors.Wrapf(UnsupportedSchemaVersionErr, "re-tag supports schema version 1 only, got %d", v)
	}
	body, err := manifest.Encode(m)
	if err != nil {
		return nil, err
	}

	res, err := c.requester.Request(ctx, http.MethodPut, c.manifestPath(newTag), &RequestOptions{
		Header: http.Header{"Content-Type": []string{m.MediaType()}},
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	if !res.IsSuccess() {
		return res, invalidResponse(res, fmt.Sprintf("put manifest %s:%s", c.repository, newTag))
	}

	c.cache.Delete(manifestKeyPrefix + newTag)
	logrus.WithFields(logrus.Fields{
		"repository": c.repository,
		"tag":        newTag,
		"digest":     digest.FromBytes(body),
	}).Debug("Pushed manifest")
	return res, nil
}

// Prefetch fills the manifest cache for every tag, fetching at most
// concurrency manifests at a time.
func (c *Client) Prefetch(ctx context.Context, concurrency int) error {
	tags, err := c.ListTags(ctx, false)
	if err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, tag := range tags {
		tag := tag
		g.Go(func() error {
			_, err := c.GetManifest(ctx, tag, false)
			return err
		})
	}
	return g.Wait()
}

// Digest returns the digest of the encoded form of m.
func Digest(m manifest.Manifest) (digest.Digest, error) {
	body, err := manifest.Encode(m)
	if err != nil {
		return "", err
	}
	return digest.FromBytes(body), nil
}

func (c *Client) manifestPath(tag string) string {
	return fmt.Sprintf("/v2/%s/manifests/%s", c.repository, tag)
}
