package images

import (
	"testing"
)

func TestParseImage(t *testing.T) {
	t.Run("Parse image name addnode", func(t *testing.T) {
		image, err := ParseImage("addnode:1.5.0-002")
		want := Image{"docker.io", "library/addnode", "1.5.0-002"}
		if err != nil {
			t.Fatalf("Wanted %v, got %v", want, err)
		}
		if want != image {
			t.Fatalf("Wanted %v, got %v", want, image)
		}
	})

	t.Run("Parse image tag latest", func(t *testing.T) {
		image, _ := ParseImage("addnode")
		want := Image{"docker.io", "library/addnode", "latest"}
		if want != image {
			t.Fatalf("Wanted %v, got %v", want, image)
		}
	})

	t.Run("Parse image with registry", func(t *testing.T) {
		image, _ := ParseImage("quay.io/coreos/etcd:v3.5.0")
		want := Image{"quay.io", "coreos/etcd", "v3.5.0"}
		if want != image {
			t.Fatalf("Wanted %v, got %v", want, image)
		}
		if image.IsDockerHub() {
			t.Fatalf("Wanted %s not to be docker hub", image.Domain)
		}
	})

	t.Run("Parse image empty", func(t *testing.T) {
		image, err := ParseImage("")
		want := Image{}
		if err != nil || want != image {
			t.Fatalf("Wanted %v, got %v (%v)", want, image, err)
		}
	})

	t.Run("Parse image digest", func(t *testing.T) {
		_, err := ParseImage("nginx@sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
		if err == nil {
			t.Fatal("Wanted an error, got nil")
		}
	})

	t.Run("Parse image invalid", func(t *testing.T) {
		_, err := ParseImage("Upper/Case")
		if err == nil {
			t.Fatal("Wanted an error, got nil")
		}
	})
}

func TestNormalizeRepository(t *testing.T) {
	tests := []struct {
		repo    string
		want    Image
		wantErr bool
	}{
		{"nginx", Image{Domain: "docker.io", Name: "library/nginx"}, false},
		{"croudtech/core", Image{Domain: "docker.io", Name: "croudtech/core"}, false},
		{"docker.io/croudtech/core", Image{Domain: "docker.io", Name: "croudtech/core"}, false},
		{"localhost:5000/team/app", Image{Domain: "localhost:5000", Name: "team/app"}, false},
		{"", Image{}, true},
		{"nginx:latest", Image{}, true},
		{"nginx@sha256:" + "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", Image{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.repo, func(t *testing.T) {
			got, err := NormalizeRepository(tt.repo)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Wanted an error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Wanted %v, got %v", tt.want, err)
			}
			if tt.want != got {
				t.Fatalf("Wanted %v, got %v", tt.want, got)
			}
		})
	}
}
