// Package checkpoint persists policy parameters. Files are written to a
// temp path and renamed into place, so a crash mid-write never corrupts the
// latest checkpoint.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/snow-ghost/tangram/policy/softmax"
)

// File is the serialized checkpoint format. Restoring it reproduces the
// parameter state exactly; FeatureDigest rejects checkpoints taken under a
// different feature configuration.
type File struct {
	RunID         string    `json:"run_id"`
	Step          int       `json:"step"`
	Version       uint64    `json:"version"`
	FeatureDigest string    `json:"feature_digest"`
	W             []float64 `json:"w"`
	V             []float64 `json:"v"`
	SavedAt       time.Time `json:"saved_at"`
}

// Manager saves and restores one policy at a fixed path.
type Manager struct {
	path   string
	runID  string
	policy *softmax.Policy
	log    *zap.Logger
}

// NewManager creates a checkpoint manager writing to path.
func NewManager(path, runID string, policy *softmax.Policy, log *zap.Logger) *Manager {
	return &Manager{path: path, runID: runID, policy: policy, log: log}
}

// Save writes the current parameters atomically.
func (m *Manager) Save(step int) error {
	version, digest, w, v := m.policy.Export()
	file := File{
		RunID:         m.runID,
		Step:          step,
		Version:       version,
		FeatureDigest: digest,
		W:             w,
		V:             v,
		SavedAt:       time.Now().UTC(),
	}

	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ckpt-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace checkpoint: %w", err)
	}

	m.log.Info("checkpoint saved",
		zap.String("path", m.path),
		zap.Int("step", step),
		zap.Uint64("version", version))
	return nil
}

// Restore loads a checkpoint file into the policy.
func (m *Manager) Restore(path string) error {
	file, err := Load(path)
	if err != nil {
		return err
	}
	if err := m.policy.Restore(file.Version, file.FeatureDigest, file.W, file.V); err != nil {
		return fmt.Errorf("restore checkpoint %s: %w", path, err)
	}
	m.log.Info("checkpoint restored",
		zap.String("path", path),
		zap.Int("step", file.Step),
		zap.Uint64("version", file.Version))
	return nil
}

// Load reads and decodes a checkpoint file.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return File{}, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return file, nil
}
