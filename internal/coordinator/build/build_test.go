package build

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/danpasecinic/deployd/internal/types"
)

type fakeDocker struct {
	buildErr error
	pushErr  error
	pushed   bool
}

func (f *fakeDocker) BuildImage(ctx context.Context, contextDir, imageTag string) error {
	return f.buildErr
}

func (f *fakeDocker) PushImage(ctx context.Context, imageTag, username, password string) error {
	f.pushed = true
	return f.pushErr
}

type fakeDispatcher struct {
	deploymentID  string
	agentEndpoint string
	ports         types.PortMap
	err           error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, imageTag string) (
	string, string, types.PortMap, error,
) {
	return f.deploymentID, f.agentEndpoint, f.ports, f.err
}

func zipWithDockerfileAtRoot(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, err := w.Create("Dockerfile")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("FROM scratch\n"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func zipWithNestedDockerfile(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, err := w.Create("proj/Dockerfile")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("FROM scratch\n"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func zipWithTwoTopLevelDirs(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range []string{"a/Dockerfile", "b/keepme.txt"} {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte("x"))
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestUploadHappyPathRootDockerfile(t *testing.T) {
	docker := &fakeDocker{}
	dispatcher := &fakeDispatcher{deploymentID: "d1", agentEndpoint: "10.0.0.1:5001", ports: types.PortMap{}}
	p := NewPipeline(docker, dispatcher, t.TempDir(), RegistryConfig{})

	result, err := p.Upload(context.Background(), bytes.NewReader(zipWithDockerfileAtRoot(t)), "bundle.zip")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DeploymentID != "d1" || result.AgentEndpoint != "10.0.0.1:5001" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if docker.pushed {
		t.Fatalf("push should be skipped when disabled")
	}
}

func TestUploadNestedDockerfile(t *testing.T) {
	docker := &fakeDocker{}
	dispatcher := &fakeDispatcher{deploymentID: "d2"}
	p := NewPipeline(docker, dispatcher, t.TempDir(), RegistryConfig{})

	_, err := p.Upload(context.Background(), bytes.NewReader(zipWithNestedDockerfile(t)), "bundle.zip")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUploadTwoTopLevelDirsFailsBadBundle(t *testing.T) {
	docker := &fakeDocker{}
	dispatcher := &fakeDispatcher{}
	p := NewPipeline(docker, dispatcher, t.TempDir(), RegistryConfig{})

	_, err := p.Upload(context.Background(), bytes.NewReader(zipWithTwoTopLevelDirs(t)), "bundle.zip")
	if !errors.Is(err, ErrBadBundle) {
		t.Fatalf("expected ErrBadBundle, got %v", err)
	}
}

func TestUploadBuildFailurePropagates(t *testing.T) {
	docker := &fakeDocker{buildErr: errors.New("boom")}
	dispatcher := &fakeDispatcher{}
	p := NewPipeline(docker, dispatcher, t.TempDir(), RegistryConfig{})

	_, err := p.Upload(context.Background(), bytes.NewReader(zipWithDockerfileAtRoot(t)), "bundle.zip")
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("expected ErrBuildFailed, got %v", err)
	}
}

func TestUploadPushSkippedWithoutCredentials(t *testing.T) {
	docker := &fakeDocker{}
	dispatcher := &fakeDispatcher{}
	p := NewPipeline(docker, dispatcher, t.TempDir(), RegistryConfig{Push: true})

	_, err := p.Upload(context.Background(), bytes.NewReader(zipWithDockerfileAtRoot(t)), "bundle.zip")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if docker.pushed {
		t.Fatalf("push requires both HUB_PUSH and credentials")
	}
}

func TestUploadPushEnabledWithCredentials(t *testing.T) {
	docker := &fakeDocker{}
	dispatcher := &fakeDispatcher{}
	p := NewPipeline(
		docker, dispatcher, t.TempDir(),
		RegistryConfig{Push: true, Username: "u", Password: "p"},
	)

	_, err := p.Upload(context.Background(), bytes.NewReader(zipWithDockerfileAtRoot(t)), "bundle.zip")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !docker.pushed {
		t.Fatalf("expected push to run")
	}
}

func TestUploadPushFailurePropagates(t *testing.T) {
	docker := &fakeDocker{pushErr: errors.New("denied")}
	dispatcher := &fakeDispatcher{}
	p := NewPipeline(
		docker, dispatcher, t.TempDir(),
		RegistryConfig{Push: true, Username: "u", Password: "p"},
	)

	_, err := p.Upload(context.Background(), bytes.NewReader(zipWithDockerfileAtRoot(t)), "bundle.zip")
	if !errors.Is(err, ErrPushFailed) {
		t.Fatalf("expected ErrPushFailed, got %v", err)
	}
}

func TestUploadDispatchFailurePropagates(t *testing.T) {
	docker := &fakeDocker{}
	wantErr := errors.New("no capacity")
	dispatcher := &fakeDispatcher{err: wantErr}
	p := NewPipeline(docker, dispatcher, t.TempDir(), RegistryConfig{})

	_, err := p.Upload(context.Background(), bytes.NewReader(zipWithDockerfileAtRoot(t)), "bundle.zip")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected dispatch error to propagate, got %v", err)
	}
}
