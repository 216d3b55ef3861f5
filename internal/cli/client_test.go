package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/danpasecinic/deployd/internal/types"
)

func writeTempBundle(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.zip")
	if err := os.WriteFile(path, []byte("fake zip contents"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestClient_Deploy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload_code" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("failed to parse multipart form: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":        "deployed",
			"agent":         "10.0.0.1:5001",
			"image":         "user_code_image_abc123",
			"deployment_id": "d-1",
			"mapped_ports":  types.PortMap{"8080/tcp": {{HostIP: "0.0.0.0", HostPort: "32000"}}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.Deploy(writeTempBundle(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DeploymentID != "d-1" || result.Agent != "10.0.0.1:5001" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestClient_DeployServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"no free agents"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if _, err := client.Deploy(writeTempBundle(t)); err == nil {
		t.Fatal("expected error")
	}
}

func TestClient_Logs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("deployment_id") != "d-1" {
			t.Errorf("unexpected deployment_id: %s", r.URL.Query().Get("deployment_id"))
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "running",
			"logs":   "hello\n",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.Logs("d-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Logs != "hello\n" || result.Status != types.StatusRunning {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestClient_Cancel(t *testing.T) {
	var gotID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotID = req["deployment_id"]
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "cancelled", "deployment_id": gotID})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if err := client.Cancel("d-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotID != "d-1" {
		t.Fatalf("expected deployment_id d-1, got %s", gotID)
	}
}

func TestClient_ListAgents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]types.AgentRecord{
			"agent-1": {AgentID: "agent-1", Endpoint: "10.0.0.1:5001", State: types.AgentFree},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	agents, err := client.ListAgents()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(agents) != 1 || agents["agent-1"].Endpoint != "10.0.0.1:5001" {
		t.Fatalf("unexpected result: %+v", agents)
	}
}

func TestClient_Prune(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ttl_seconds") == "" {
			t.Error("expected ttl_seconds query param")
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]int{"removed": 3})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	removed, err := client.Prune(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
}
