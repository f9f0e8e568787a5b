package localdocker

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/coralrun/coral/internal/coralerr"
	"github.com/coralrun/coral/internal/coralspec"
	"github.com/coralrun/coral/internal/protocol"
)

const (
	bundleMountPath = "/opt/coral/bundle.tar.gz"
	resultMountPath = "/opt/coral/result.bin"
)

// Submit creates and starts a container for one call, per spec.md
// §4.6's env-var worker contract: CALLSPEC_B64 plus BUNDLE_URI and
// RESULT_URI pointing at paths bind-mounted from the driver's state
// directory.
func (d *Driver) Submit(ctx context.Context, call coralspec.CallSpec, image coralspec.ImageRef, bundle coralspec.BundleRef, resources coralspec.ResourceSpec, env map[string]string, labels map[string]string) (coralspec.RunHandle, error) {
	imageURI := image.URI
	if imageURI == "" {
		if d.defaultRuntimeImage == "" {
			return coralspec.RunHandle{}, coralerr.New(coralerr.ConfigError, "no-build call requires DefaultRuntimeImage to be configured")
		}
		imageURI = d.defaultRuntimeImage
	}

	callSpecJSON, err := protocol.ToJSON(call)
	if err != nil {
		return coralspec.RunHandle{}, err
	}

	resultHostPath := strings.TrimPrefix(call.ResultRef, "file://")
	if resultHostPath == "" {
		resultHostPath = d.resultPath(call.CallID)
	}
	if err := os.MkdirAll(filepath.Dir(resultHostPath), 0o755); err != nil {
		return coralspec.RunHandle{}, err
	}
	if f, err := os.Create(resultHostPath); err == nil {
		f.Close()
	}

	containerEnv := make([]string, 0, len(env)+3)
	for k, v := range env {
		containerEnv = append(containerEnv, k+"="+v)
	}
	containerEnv = append(containerEnv,
		"CALLSPEC_B64="+b64std(callSpecJSON),
		"RESULT_URI=file://"+resultMountPath,
	)

	bundleHostPath := strings.TrimPrefix(bundle.URI, "file://")
	binds := []string{resultHostPath + ":" + resultMountPath}
	if bundleHostPath != "" {
		binds = append(binds, bundleHostPath+":"+bundleMountPath+":ro")
		containerEnv = append(containerEnv, "BUNDLE_URI=file://"+bundleMountPath)
	}

	hostConfig := &container.HostConfig{Binds: binds}
	if model, count, err := parseGPU(resources.GPU); err != nil {
		return coralspec.RunHandle{}, err
	} else if count > 0 {
		hostConfig.Resources.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			Count:        count,
			Capabilities: [][]string{{"gpu"}},
		}}
		containerEnv = append(containerEnv, "CORAL_GPU_MODEL="+model)
	}
	if resources.CPU > 0 {
		hostConfig.Resources.NanoCPUs = int64(resources.CPU) * 1_000_000_000
	}
	if resources.Memory != "" {
		if memBytes, err := parseMemory(resources.Memory); err == nil {
			hostConfig.Resources.Memory = memBytes
		}
	}

	dockerLabels := make(map[string]string, len(labels))
	for k, v := range labels {
		dockerLabels[k] = v
	}

	resp, err := d.api.ContainerCreate(ctx, &container.Config{
		Image:  imageURI,
		Env:    containerEnv,
		Labels: dockerLabels,
	}, hostConfig, nil, nil, "")
	if err != nil {
		return coralspec.RunHandle{}, coralerr.Wrap(coralerr.ExecutorError, "create container", err)
	}
	if err := d.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return coralspec.RunHandle{}, coralerr.Wrap(coralerr.ExecutorError, "start container", err)
	}

	return coralspec.RunHandle{CallID: call.CallID, ProviderRef: resp.ID}, nil
}

// Wait blocks until the container referenced by handle exits, then
// reads back the result file bind-mounted at resultMountPath.
func (d *Driver) Wait(ctx context.Context, handle coralspec.RunHandle) (coralspec.RunResult, error) {
	statusCh, errCh := d.api.ContainerWait(ctx, handle.ProviderRef, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return coralspec.RunResult{}, coralerr.Wrap(coralerr.ExecutorError, "wait for container", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-ctx.Done():
		return coralspec.RunResult{}, ctx.Err()
	}

	info, err := d.api.ContainerInspect(ctx, handle.ProviderRef)
	if err == nil && info.State != nil {
		exitCode = int64(info.State.ExitCode)
	}

	output, readErr := d.GetResult(ctx, "file://"+d.resultPath(handle.CallID))
	if readErr != nil {
		output = []byte(d.drainLogs(ctx, handle.ProviderRef))
	}

	return coralspec.RunResult{
		CallID:  handle.CallID,
		Success: exitCode == 0,
		Output:  output,
	}, nil
}

// Cancel stops the container for handle without waiting for a clean exit.
func (d *Driver) Cancel(ctx context.Context, handle coralspec.RunHandle) error {
	timeout := 5
	return d.api.ContainerStop(ctx, handle.ProviderRef, container.StopOptions{Timeout: &timeout})
}

// Stream tails handle's container logs.
func (d *Driver) Stream(ctx context.Context, handle coralspec.RunHandle) (<-chan string, error) {
	reader, err := d.api.ContainerLogs(ctx, handle.ProviderRef, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, coralerr.Wrap(coralerr.ExecutorError, "stream logs", err)
	}
	lines := make(chan string)
	go func() {
		defer close(lines)
		defer reader.Close()
		var buf bytes.Buffer
		_, _ = stdcopy.StdCopy(&buf, &buf, reader)
		for _, line := range strings.Split(buf.String(), "\n") {
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines, nil
}

// Cleanup removes handle's container. A detached run's container is
// left in place so a later Stream/Wait can still reach it.
func (d *Driver) Cleanup(ctx context.Context, handle coralspec.RunHandle, detached bool) error {
	if detached {
		return nil
	}
	return d.api.ContainerRemove(ctx, handle.ProviderRef, container.RemoveOptions{Force: true, RemoveVolumes: true})
}

func (d *Driver) drainLogs(ctx context.Context, containerID string) string {
	reader, err := d.api.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return ""
	}
	defer reader.Close()
	var buf bytes.Buffer
	_, _ = stdcopy.StdCopy(&buf, &buf, reader)
	return buf.String()
}

func b64std(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func parseMemory(spec string) (int64, error) {
	spec = strings.TrimSpace(strings.ToLower(spec))
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(spec, "gi") || strings.HasSuffix(spec, "g"):
		multiplier = 1 << 30
		spec = strings.TrimSuffix(strings.TrimSuffix(spec, "gi"), "g")
	case strings.HasSuffix(spec, "mi") || strings.HasSuffix(spec, "m"):
		multiplier = 1 << 20
		spec = strings.TrimSuffix(strings.TrimSuffix(spec, "mi"), "m")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(spec), 10, 64)
	if err != nil {
		return 0, err
	}
	return n * multiplier, nil
}
