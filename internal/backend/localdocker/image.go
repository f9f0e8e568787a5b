package localdocker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"

	"github.com/coralrun/coral/internal/coralerr"
	"github.com/coralrun/coral/internal/coralspec"
	"github.com/coralrun/coral/internal/planhash"
)

// ResolveImage builds (or reuses) the local image for spec, per
// spec.md §4.5. copySources are LocalSources with Mode==SourceCopy:
// their resolved directories are baked into the image under
// /opt/coral/copy/<name> rather than shipped with every call's bundle.
func (d *Driver) ResolveImage(ctx context.Context, spec coralspec.ImageSpec, copySources []coralspec.LocalSource) (coralspec.ImageRef, error) {
	planHash, err := planhash.Hash(spec)
	if err != nil {
		return coralspec.ImageRef{}, err
	}
	tag := tagFor(planHash)

	if ref, ok, err := d.imageExists(ctx, tag); err != nil {
		return coralspec.ImageRef{}, err
	} else if ok {
		return ref, nil
	}

	buildCtx, err := buildContext(spec, copySources)
	if err != nil {
		return coralspec.ImageRef{}, err
	}

	resp, err := d.api.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return coralspec.ImageRef{}, coralerr.Wrap(coralerr.BuilderError, "build image for "+tag, err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return coralspec.ImageRef{}, coralerr.Wrap(coralerr.BuilderError, "drain build output", err)
	}

	ref, ok, err := d.imageExists(ctx, tag)
	if err != nil {
		return coralspec.ImageRef{}, err
	}
	if !ok {
		return coralspec.ImageRef{}, coralerr.New(coralerr.BuilderError, "image build reported success but "+tag+" is missing")
	}
	return ref, nil
}

// buildContext renders spec into a Dockerfile and packages it, plus
// every copy-mode source directory, into a tar stream suitable for
// ImageBuild.
func buildContext(spec coralspec.ImageSpec, copySources []coralspec.LocalSource) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	dockerfile := renderDockerfile(spec, copySources)
	if err := writeTarFile(tw, "Dockerfile", []byte(dockerfile)); err != nil {
		return nil, err
	}

	for _, src := range copySources {
		if err := addDirToTar(tw, src.Name, copyDestName(src.Name)); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

func renderDockerfile(spec coralspec.ImageSpec, copySources []coralspec.LocalSource) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", spec.BaseImage)
	for _, key := range coralspec.SortedEnvKeys(spec.Env) {
		fmt.Fprintf(&b, "ENV %s=%q\n", key, spec.Env[key])
	}
	if len(spec.SystemPackages) > 0 {
		fmt.Fprintf(&b, "RUN apt-get update && apt-get install -y --no-install-recommends %s && rm -rf /var/lib/apt/lists/*\n", strings.Join(spec.SystemPackages, " "))
	}
	if len(spec.RuntimePackages) > 0 {
		fmt.Fprintf(&b, "RUN coral-runtime-install %s\n", strings.Join(spec.RuntimePackages, " "))
	}
	for _, src := range copySources {
		fmt.Fprintf(&b, "COPY %s /opt/coral/copy/%s\n", copyDestName(src.Name), copyDestName(src.Name))
	}
	if spec.Workdir != "" {
		fmt.Fprintf(&b, "WORKDIR %s\n", spec.Workdir)
	}
	return b.String()
}

func copyDestName(path string) string {
	clean := strings.Trim(path, "/")
	clean = strings.ReplaceAll(clean, "/", "_")
	if clean == "" {
		clean = "root"
	}
	return clean
}
