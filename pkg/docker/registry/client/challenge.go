package client

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// ChallengeHeader is the response header carrying the authentication challenge.
const ChallengeHeader = "Www-Authenticate"

var (
	BasicAuthType  = "Basic"
	BearerAuthType = "Bearer"
)

var (
	challengeRe      = regexp.MustCompile(`^(\S+) (.*)`)
	challengeParamRe = regexp.MustCompile(`([a-zA-Z]+)="([^"]+)"`)
)

// Param is one key="value" pair of a challenge.
type Param struct {
	Key   string
	Value string
}

// Challenge is a parsed WWW-Authenticate header.
type Challenge struct {
	Scheme string
	Realm  string
	// Params holds every pair except realm and error, in header order.
	Params []Param
}

// ParseChallenge parses a header of the form
// `Bearer realm="...",service="...",scope="..."`.
func ParseChallenge(header string) (*Challenge, error) {
	m := challengeRe.FindStringSubmatch(header)
	if m == nil {
		return nil, errors.Wrapf(MalformedChallengeHeaderErr, "no auth data in %q", header)
	}
	if !strings.EqualFold(m[1], BearerAuthType) {
		return nil, errors.Wrapf(MalformedChallengeHeaderErr, "unsupported auth type %s", m[1])
	}

	c := &Challenge{Scheme: BearerAuthType}
	hasRealm := false
	for _, p := range challengeParamRe.FindAllStringSubmatch(m[2], -1) {
		key, value := p[1], p[2]
		switch key {
		case "realm":
			c.Realm, hasRealm = value, true
		case "error":
		default:
			c.setParam(key, value)
		}
	}
	if !hasRealm {
		return nil, errors.Wrapf(MalformedChallengeHeaderErr, "no realm in %q", header)
	}
	return c, nil
}

// a repeated key keeps its first position and its last value.
func (c *Challenge) setParam(key, value string) {
	for i := range c.Params {
		if c.Params[i].Key == key {
			c.Params[i].Value = value
			return
		}
	}
	c.Params = append(c.Params, Param{Key: key, Value: value})
}

// Get returns the value of a challenge parameter.
func (c *Challenge) Get(key string) string {
	if key == "realm" {
		return c.Realm
	}
	for _, p := range c.Params {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

// AuthURL returns the token endpoint url: the realm followed by the other
// parameters as a query string, percent-decoded. Values that are not valid
// escapes are kept as sent.
func (c *Challenge) AuthURL() string {
	if len(c.Params) == 0 {
		return c.Realm
	}
	pairs := make([]string, 0, len(c.Params))
	for _, p := range c.Params {
		value, err := url.QueryUnescape(p.Value)
		if err != nil {
			value = p.Value
		}
		pairs = append(pairs, p.Key+"="+value)
	}
	sep := "?"
	if strings.Contains(c.Realm, "?") {
		sep = "&"
	}
	return c.Realm + sep + strings.Join(pairs, "&")
}
