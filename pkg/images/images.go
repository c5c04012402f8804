package images

import (
	"github.com/distribution/reference"
	"github.com/pkg/errors"
)

var (
	_defaultImageTag = "latest"
	_defaultDomain   = "docker.io"
)

// Image is a parsed image reference. Name is the repository path inside
// the registry, e.g. library/nginx.
type Image struct {
	Domain string
	Name   string
	Tag    string
}

// IsDockerHub reports whether the image lives on Docker Hub.
func (i Image) IsDockerHub() bool {
	return i.Domain == _defaultDomain
}

// ParseImage normalizes image the way docker does: nginx becomes
// docker.io/library/nginx:latest.
func ParseImage(image string) (Image, error) {
	if len(image) < 1 {
		return Image{}, nil
	}
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return Image{}, errors.Wrapf(err, "parse image %q", image)
	}
	if _, ok := named.(reference.Digested); ok {
		return Image{}, errors.Errorf("image %q: digest references are not supported", image)
	}
	tag := _defaultImageTag
	if tagged, ok := named.(reference.Tagged); ok {
		tag = tagged.Tag()
	}
	return Image{
		Domain: reference.Domain(named),
		Name:   reference.Path(named),
		Tag:    tag,
	}, nil
}

// NormalizeRepository turns a repository name into its namespace/name
// form. Tags and digests are not allowed.
func NormalizeRepository(repo string) (Image, error) {
	if repo == "" {
		return Image{}, errors.New("repository is required")
	}
	named, err := reference.ParseNormalizedNamed(repo)
	if err != nil {
		return Image{}, errors.Wrapf(err, "parse repository %q", repo)
	}
	if !reference.IsNameOnly(named) {
		return Image{}, errors.Errorf("repository %q must not carry a tag or digest", repo)
	}
	return Image{Domain: reference.Domain(named), Name: reference.Path(named)}, nil
}
