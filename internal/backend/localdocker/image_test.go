package localdocker

import (
	"strings"
	"testing"

	"github.com/coralrun/coral/internal/coralspec"
)

func TestRenderDockerfileIncludesSystemAndRuntimePackages(t *testing.T) {
	spec := coralspec.ImageSpec{
		BaseImage:       "golang:1.22",
		SystemPackages:  []string{"ca-certificates", "curl"},
		RuntimePackages: []string{"example.com/pkg@v1"},
		Env:             map[string]string{"B": "2", "A": "1"},
		Workdir:         "/app",
	}
	out := renderDockerfile(spec, nil)
	if !strings.HasPrefix(out, "FROM golang:1.22\n") {
		t.Fatalf("expected FROM line first, got %q", out)
	}
	if !strings.Contains(out, "ENV A=\"1\"") || !strings.Contains(out, "ENV B=\"2\"") {
		t.Fatalf("expected both env vars rendered, got %q", out)
	}
	if strings.Index(out, "ENV A=") > strings.Index(out, "ENV B=") {
		t.Fatalf("expected env vars in sorted key order, got %q", out)
	}
	if !strings.Contains(out, "apt-get install -y --no-install-recommends ca-certificates curl") {
		t.Fatalf("expected system packages installed, got %q", out)
	}
	if !strings.Contains(out, "coral-runtime-install example.com/pkg@v1") {
		t.Fatalf("expected runtime packages installed, got %q", out)
	}
	if !strings.Contains(out, "WORKDIR /app") {
		t.Fatalf("expected workdir set, got %q", out)
	}
}

func TestRenderDockerfileCopiesEachSource(t *testing.T) {
	spec := coralspec.ImageSpec{BaseImage: "scratch"}
	copySources := []coralspec.LocalSource{
		{Name: "/repo/pkg", Mode: coralspec.SourceCopy},
	}
	out := renderDockerfile(spec, copySources)
	if !strings.Contains(out, "COPY repo_pkg /opt/coral/copy/repo_pkg") {
		t.Fatalf("expected a COPY line for the copy-mode source, got %q", out)
	}
}

func TestTagForIsStableAndDockerSafe(t *testing.T) {
	tag := tagFor("0123456789abcdef0123456789abcdef")
	if !strings.HasPrefix(tag, "coral-local/") || !strings.HasSuffix(tag, ":latest") {
		t.Fatalf("unexpected tag shape: %q", tag)
	}
	if strings.Contains(tag, "_") {
		t.Fatalf("tag should not contain underscores: %q", tag)
	}
}
