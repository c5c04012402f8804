package client

import "time"

// TagList is the body of a tags/list response.
type TagList struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// TokenResponse is the body returned by a token endpoint.
type TokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	IssuedAt    string `json:"issued_at"`
}

// AuthToken is the bearer token currently in use.
type AuthToken struct {
	Value string
	// ExpiresAt is zero when the token endpoint did not say.
	ExpiresAt time.Time
}
