package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/capstan/capstan/pkg/logger"
	"github.com/capstan/capstan/pkg/state"
	"github.com/capstan/capstan/pkg/types"
)

// setupProject points the CLI globals at a temp project with one local
// connection and restores them when the test finishes.
func setupProject(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "capstan.config.json")
	raw := `{
		"version": "1.0",
		"connections": [{"name": "web", "local": true}]
	}`
	if err := os.WriteFile(configPath, []byte(raw), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	oldCfgFile, oldRoot := cfgFile, projectRoot
	cfgFile, projectRoot = configPath, tmpDir
	t.Cleanup(func() { cfgFile, projectRoot = oldCfgFile, oldRoot })

	return tmpDir
}

func writeRecord(t *testing.T, projectDir string, record types.RunRecord) {
	t.Helper()
	stateDir := filepath.Join(projectDir, ".capstan", "state")
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatalf("failed to create state dir: %v", err)
	}
	data, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("failed to marshal record: %v", err)
	}
	path := filepath.Join(stateDir, record.Connection+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write record: %v", err)
	}
}

// Tests

func TestRunTaskCommand_RefusesLockedConnection(t *testing.T) {
	tmpDir := setupProject(t)

	// A live run held by another process: foreign pid, fresh heartbeat
	writeRecord(t, tmpDir, types.RunRecord{
		RunID:      "held",
		Connection: "web",
		Status:     types.RunStatusRunning,
		StartedAt:  time.Now(),
		ProcessID:  os.Getpid() + 1,
		Heartbeat:  time.Now(),
	})

	marker := filepath.Join(tmpDir, "never.txt")
	err := runTaskCommand("touch "+marker, nil, "")
	if err == nil {
		t.Fatal("expected a lock error")
	}
	if !strings.Contains(err.Error(), "locked") {
		t.Errorf("unexpected error: %v", err)
	}
	if _, statErr := os.Stat(marker); !os.IsNotExist(statErr) {
		t.Error("locked connection must not run the task")
	}
}

func TestRunTaskCommand_ReleasesClaimAfterRun(t *testing.T) {
	tmpDir := setupProject(t)

	if err := runTaskCommand("echo ready", nil, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A fresh manager reads the record back from disk
	records := state.NewManager(tmpDir, logger.CreateLogger("", "error"))
	record, err := records.ReadRecord("web")
	if err != nil {
		t.Fatalf("expected a run record: %v", err)
	}
	if record.Status != types.RunStatusSucceeded {
		t.Errorf("record status = %q, want succeeded", record.Status)
	}
	if record.ProcessID != 0 {
		t.Errorf("process claim not released: pid %d", record.ProcessID)
	}

	locked, err := records.IsLocked("web")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if locked {
		t.Error("completed run must not hold the lock")
	}
}

func TestRefuseLocked_StaleHeartbeatDoesNotBlock(t *testing.T) {
	tmpDir := setupProject(t)

	// A crashed run: foreign pid but the heartbeat went stale
	writeRecord(t, tmpDir, types.RunRecord{
		RunID:      "stale",
		Connection: "web",
		Status:     types.RunStatusRunning,
		StartedAt:  time.Now().Add(-time.Hour),
		ProcessID:  os.Getpid() + 1,
		Heartbeat:  time.Now().Add(-time.Hour),
	})

	rt, err := newRuntime()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := refuseLocked(rt, []string{"web"}); err != nil {
		t.Errorf("stale claim must not block: %v", err)
	}
}
