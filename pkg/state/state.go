// Package state persists per-connection run records under .capstan/state
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/capstan/capstan/pkg/logger"
	"github.com/capstan/capstan/pkg/types"
)

// Manager handles persistent run record files. One JSON file per
// connection; writes are atomic rename-over so readers never see a torn
// record.
type Manager struct {
	stateDir       string
	logger         logger.Logger
	mu             sync.RWMutex
	records        map[string]*types.RunRecord
	heartbeatStop  chan struct{}
	heartbeatTimer *time.Ticker
}

// NewManager creates a run record manager rooted at the project directory
func NewManager(projectRoot string, log logger.Logger) *Manager {
	stateDir := filepath.Join(projectRoot, ".capstan", "state")

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		log.Error("Failed to create state directory", logger.WithField("error", err))
	}

	return &Manager{
		stateDir: stateDir,
		logger:   log,
		records:  make(map[string]*types.RunRecord),
	}
}

// InitializeRun creates the run record for a connection at run start,
// carrying over the last error from a previous record if one exists.
func (m *Manager) InitializeRun(connection string, runID string, taskCount int) (*types.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := &types.RunRecord{
		RunID:      runID,
		Connection: connection,
		Status:     types.RunStatusRunning,
		StartedAt:  time.Now(),
		TaskCount:  taskCount,
		ProcessID:  os.Getpid(),
		Heartbeat:  time.Now(),
	}

	previous, err := m.loadRecordFile(connection)
	if err == nil && previous != nil {
		record.LastError = previous.LastError
	}

	if err := m.saveRecordFile(record); err != nil {
		return nil, fmt.Errorf("failed to save initial run record: %w", err)
	}

	m.records[connection] = record
	return record, nil
}

// CompleteRun finalizes the record for a connection after its passes finish
func (m *Manager) CompleteRun(connection string, status types.RunStatus, failures int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[connection]
	if !ok {
		var err error
		record, err = m.loadRecordFile(connection)
		if err != nil {
			return fmt.Errorf("run record not found: %s", connection)
		}
		m.records[connection] = record
	}

	now := time.Now()
	record.Status = status
	record.FinishedAt = now
	record.Duration = now.Sub(record.StartedAt)
	record.FailureCount = failures
	record.LastError = lastError
	record.Heartbeat = now

	return m.saveRecordFile(record)
}

// ReadRecord reads the run record for a connection
func (m *Manager) ReadRecord(connection string) (*types.RunRecord, error) {
	m.mu.RLock()
	if record, ok := m.records[connection]; ok {
		m.mu.RUnlock()
		return record, nil
	}
	m.mu.RUnlock()

	return m.loadRecordFile(connection)
}

// RemoveRecord removes the run record for a connection
func (m *Manager) RemoveRecord(connection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, connection)

	recordFile := m.getRecordFilePath(connection)
	if err := os.Remove(recordFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove run record: %w", err)
	}

	return nil
}

// IsLocked checks whether another live process is mid-run against a
// connection. A record with a stale heartbeat does not count as a lock.
func (m *Manager) IsLocked(connection string) (bool, error) {
	record, err := m.loadRecordFile(connection)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	if record.Status != types.RunStatusRunning {
		return false, nil
	}

	if record.ProcessID == os.Getpid() {
		return false, nil
	}

	// Consider the holder dead if the heartbeat is older than 30 seconds
	if time.Since(record.Heartbeat) > 30*time.Second {
		return false, nil
	}

	return true, nil
}

// DiscoverRecords finds all existing run records
func (m *Manager) DiscoverRecords() (map[string]*types.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make(map[string]*types.RunRecord)

	files, err := os.ReadDir(m.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return records, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		connection := file.Name()[:len(file.Name())-5]
		record, err := m.loadRecordFile(connection)
		if err != nil {
			m.logger.Warn("Failed to load run record",
				logger.WithField("connection", connection),
				logger.WithField("error", err))
			continue
		}

		records[connection] = record
	}

	return records, nil
}

// StartHeartbeat starts the heartbeat updater for in-memory records
func (m *Manager) StartHeartbeat(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.heartbeatTimer != nil {
		return
	}

	m.heartbeatStop = make(chan struct{})
	m.heartbeatTimer = time.NewTicker(10 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.heartbeatStop:
				return
			case <-m.heartbeatTimer.C:
				m.updateHeartbeats()
			}
		}
	}()
}

// StopHeartbeat stops the heartbeat updater
func (m *Manager) StopHeartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}

	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

// Cleanup marks every in-memory record idle and releases the process claim
func (m *Manager) Cleanup() error {
	m.StopHeartbeat()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, record := range m.records {
		if record.Status == types.RunStatusRunning {
			record.Status = types.RunStatusIdle
		}
		record.ProcessID = 0
		if err := m.saveRecordFile(record); err != nil {
			m.logger.Warn("Failed to save final run record",
				logger.WithField("connection", record.Connection),
				logger.WithField("error", err))
		}
	}

	return nil
}

// Private methods

func (m *Manager) getRecordFilePath(connection string) string {
	return filepath.Join(m.stateDir, connection+".json")
}

func (m *Manager) loadRecordFile(connection string) (*types.RunRecord, error) {
	recordFile := m.getRecordFilePath(connection)

	data, err := os.ReadFile(recordFile)
	if err != nil {
		return nil, err
	}

	var record types.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse run record: %w", err)
	}

	return &record, nil
}

func (m *Manager) saveRecordFile(record *types.RunRecord) error {
	recordFile := m.getRecordFilePath(record.Connection)

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}

	tempFile := recordFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}

	if err := os.Rename(tempFile, recordFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename run record: %w", err)
	}

	return nil
}

func (m *Manager) updateHeartbeats() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, record := range m.records {
		if record.Status != types.RunStatusRunning {
			continue
		}
		record.Heartbeat = now
		if err := m.saveRecordFile(record); err != nil {
			m.logger.Debug("Failed to update heartbeat",
				logger.WithField("connection", record.Connection),
				logger.WithField("error", err))
		}
	}
}
