// Package build implements the upload-to-build pipeline: persisting an
// uploaded bundle, locating its Dockerfile, building and optionally
// pushing an image, then handing off to dispatch.
package build

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/danpasecinic/deployd/internal/types"
)

var (
	// ErrBadBundle covers zip extraction failure or no locatable Dockerfile.
	ErrBadBundle = errors.New("bad bundle")
	// ErrBuildFailed wraps a container runtime build error.
	ErrBuildFailed = errors.New("build failed")
	// ErrPushFailed wraps a registry push error.
	ErrPushFailed = errors.New("push failed")
)

// Docker is the subset of the container runtime the build pipeline needs.
type Docker interface {
	BuildImage(ctx context.Context, contextDir, imageTag string) error
	PushImage(ctx context.Context, imageTag, username, password string) error
}

// Dispatcher selects a worker and hands off the built image, per §4.3.
type Dispatcher interface {
	Dispatch(ctx context.Context, imageTag string) (
		deploymentID, agentEndpoint string, mappedPorts types.PortMap, err error,
	)
}

// RegistryConfig controls whether and how a built image is pushed.
type RegistryConfig struct {
	Push     bool
	Username string
	Password string
}

// Pipeline runs the upload→build→push→dispatch path.
type Pipeline struct {
	docker     Docker
	dispatcher Dispatcher
	scratchDir string
	registry   RegistryConfig
}

// NewPipeline constructs a Pipeline. scratchRoot is the base directory new
// scratch directories are created under (e.g. os.TempDir()).
func NewPipeline(docker Docker, dispatcher Dispatcher, scratchRoot string, registry RegistryConfig) *Pipeline {
	return &Pipeline{docker: docker, dispatcher: dispatcher, scratchDir: scratchRoot, registry: registry}
}

// Result is what a successful Upload reports back to the caller.
type Result struct {
	DeploymentID  string
	AgentEndpoint string
	ImageTag      string
	MappedPorts   types.PortMap
}

// Upload persists bundle, builds an image from it, and dispatches it to a
// worker. filename determines whether the bundle is treated as a zip
// archive (see §4.2).
func (p *Pipeline) Upload(ctx context.Context, bundle io.Reader, filename string) (Result, error) {
	scratchDir, err := os.MkdirTemp(p.scratchDir, "deployd-upload-*")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	bundlePath := filepath.Join(scratchDir, filename)
	if err := writeFile(bundlePath, bundle); err != nil {
		return Result{}, fmt.Errorf("failed to persist upload: %w", err)
	}

	if strings.HasSuffix(strings.ToLower(filename), ".zip") {
		if err := extractZip(bundlePath, scratchDir); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrBadBundle, err)
		}
		_ = os.Remove(bundlePath)
	}

	contextDir, err := locateBuildContext(scratchDir)
	if err != nil {
		return Result{}, err
	}

	imageTag := fmt.Sprintf("user_code_image_%s", uuid.New().String()[:8])

	if err := p.docker.BuildImage(ctx, contextDir, imageTag); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}

	if p.registry.Push && p.registry.Username != "" && p.registry.Password != "" {
		if err := p.docker.PushImage(ctx, imageTag, p.registry.Username, p.registry.Password); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrPushFailed, err)
		}
	}

	deploymentID, agentEndpoint, mappedPorts, err := p.dispatcher.Dispatch(ctx, imageTag)
	if err != nil {
		return Result{}, err
	}

	return Result{
		DeploymentID:  deploymentID,
		AgentEndpoint: agentEndpoint,
		ImageTag:      imageTag,
		MappedPorts:   mappedPorts,
	}, nil
}

// locateBuildContext implements §4.2 step 3: Dockerfile at the scratch
// root, or a single top-level subdirectory containing one.
func locateBuildContext(scratchDir string) (string, error) {
	if _, err := os.Stat(filepath.Join(scratchDir, "Dockerfile")); err == nil {
		return scratchDir, nil
	}

	entries, err := os.ReadDir(scratchDir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadBundle, err)
	}

	var subdirs []string
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e.Name())
		}
	}

	if len(subdirs) == 1 {
		candidate := filepath.Join(scratchDir, subdirs[0])
		if _, err := os.Stat(filepath.Join(candidate, "Dockerfile")); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: no Dockerfile found", ErrBadBundle)
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = io.Copy(f, r)
	return err
}

// extractZip extracts a zip archive at zipPath into destDir.
func extractZip(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		destPath := filepath.Join(destDir, f.Name)
		if !strings.HasPrefix(destPath, filepath.Clean(destDir)+string(os.PathSeparator)) && destPath != filepath.Clean(destDir) {
			return fmt.Errorf("illegal file path in archive: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return err
		}

		if err := extractZipFile(f, destPath); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(f *zip.File, destPath string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	_, err = io.Copy(dst, src)
	return err
}
