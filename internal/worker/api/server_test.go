package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/danpasecinic/deployd/internal/types"
	"github.com/danpasecinic/deployd/internal/worker/deployment"
)

type stubDocker struct {
	createErr error
}

func (s *stubDocker) CreateContainer(ctx context.Context, imageTag, containerName string) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	return "container-1", nil
}
func (s *stubDocker) StartContainer(ctx context.Context, containerID string) error  { return nil }
func (s *stubDocker) StopContainer(ctx context.Context, containerID string) error   { return nil }
func (s *stubDocker) RemoveContainer(ctx context.Context, containerID string) error { return nil }
func (s *stubDocker) RemoveImage(ctx context.Context, imageTag string) error        { return nil }
func (s *stubDocker) WaitContainer(ctx context.Context, containerID string) (int64, error) {
	return 0, nil
}
func (s *stubDocker) StreamLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}
func (s *stubDocker) PublishedPorts(ctx context.Context, containerID string) (types.PortMap, error) {
	return types.PortMap{}, nil
}

func newTestServer() (*Server, *echo.Echo) {
	mgr := deployment.NewManager(&stubDocker{})
	s := NewServer(mgr)
	e := echo.New()
	s.RegisterRoutes(e)
	return s, e
}

func TestStartDeploymentHappyPath(t *testing.T) {
	s, e := newTestServer()

	body, _ := json.Marshal(startRequest{Image: "img"})
	req := httptest.NewRequest(http.MethodPost, "/start_deployment", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := s.StartDeployment(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStartDeploymentMissingImage(t *testing.T) {
	s, e := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/start_deployment", bytes.NewReader([]byte(`{}`)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := s.StartDeployment(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStartDeploymentRejectsSecondWhileBusy(t *testing.T) {
	mgr := deployment.NewManager(&stubDocker{})
	s := NewServer(mgr)
	e := echo.New()
	s.RegisterRoutes(e)

	if _, _, err := mgr.Start(context.Background(), "img", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body, _ := json.Marshal(startRequest{Image: "img2"})
	req := httptest.NewRequest(http.MethodPost, "/start_deployment", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := s.StartDeployment(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 agent busy, got %d", rec.Code)
	}
}

func TestDeploymentLogsUnknown(t *testing.T) {
	s, e := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/deployment_logs?deployment_id=missing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := s.DeploymentLogs(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCancelDeploymentUnknown(t *testing.T) {
	s, e := newTestServer()

	body, _ := json.Marshal(cancelRequest{DeploymentID: "missing"})
	req := httptest.NewRequest(http.MethodPost, "/cancel_deployment", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := s.CancelDeployment(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
