package cluster

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jroosing/bsdm-proxy/internal/config"
	"github.com/jroosing/bsdm-proxy/internal/storage"
)

func TestNewSyncer_RequiresSecondaryMode(t *testing.T) {
	cfg := &config.ClusterConfig{
		Mode:       config.ClusterModePrimary,
		PrimaryURL: "http://primary:8080",
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	_, err := NewSyncer(cfg, logger, nil, nil)
	if err == nil {
		t.Fatal("expected error for non-secondary mode")
	}
}

func TestNewSyncer_RequiresPrimaryURL(t *testing.T) {
	cfg := &config.ClusterConfig{
		Mode:       config.ClusterModeSecondary,
		PrimaryURL: "",
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	_, err := NewSyncer(cfg, logger, nil, nil)
	if err == nil {
		t.Fatal("expected error for missing primary URL")
	}
}

func TestSyncer_FetchesConfigFromPrimary(t *testing.T) {
	exported := ExportData{
		Version:   42,
		Timestamp: time.Now().UTC(),
		NodeID:    "primary-1",
		Peers: []storage.PeerRecord{
			{ID: "parent:cache-a:3128", Kind: "parent", Host: "cache-a", Port: 3128, ICPPort: 3130, Weight: 1, Enabled: true},
		},
		Selection: "weighted",
		ACLMode:   "allow_all",
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/cluster/export" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(exported)
	}))
	defer server.Close()

	var importCalled atomic.Bool
	var importedData *ExportData

	cfg := &config.ClusterConfig{
		Mode:         config.ClusterModeSecondary,
		PrimaryURL:   server.URL,
		SyncInterval: "1h",
		SyncTimeout:  "5s",
		NodeID:       "secondary-1",
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	importFunc := func(data *ExportData) error {
		importCalled.Store(true)
		importedData = data
		return nil
	}
	versionFunc := func() (int64, error) { return 0, nil }

	syncer, err := NewSyncer(cfg, logger, importFunc, versionFunc)
	if err != nil {
		t.Fatalf("NewSyncer failed: %v", err)
	}

	if err := syncer.ForceSync(context.Background()); err != nil {
		t.Fatalf("ForceSync failed: %v", err)
	}

	if !importCalled.Load() {
		t.Fatal("expected importFunc to be called")
	}
	if importedData == nil || importedData.Version != 42 {
		t.Fatalf("unexpected imported data: %+v", importedData)
	}

	status := syncer.Status()
	if status.SyncCount != 1 {
		t.Fatalf("expected sync count 1, got %d", status.SyncCount)
	}
	if status.ErrorCount != 0 {
		t.Fatalf("expected no errors, got %d", status.ErrorCount)
	}
}

func TestSyncer_SkipsImportWhenVersionNotNewer(t *testing.T) {
	exported := ExportData{Version: 1, NodeID: "primary-1"}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(exported)
	}))
	defer server.Close()

	var importCalled atomic.Bool

	cfg := &config.ClusterConfig{
		Mode:         config.ClusterModeSecondary,
		PrimaryURL:   server.URL,
		SyncInterval: "1h",
		SyncTimeout:  "5s",
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	importFunc := func(data *ExportData) error {
		importCalled.Store(true)
		return nil
	}
	versionFunc := func() (int64, error) { return 1, nil }

	syncer, err := NewSyncer(cfg, logger, importFunc, versionFunc)
	if err != nil {
		t.Fatalf("NewSyncer failed: %v", err)
	}

	if err := syncer.ForceSync(context.Background()); err != nil {
		t.Fatalf("ForceSync failed: %v", err)
	}
	if importCalled.Load() {
		t.Fatal("expected importFunc not to be called when remote version is not newer")
	}
}
