// Package storage writes job artifacts to disk.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ArtifactStorage lays out files as <BaseDir>/<jobID>/...
type ArtifactStorage struct {
	BaseDir string
}

// NewArtifactStorage creates a storage handler rooted at baseDir.
func NewArtifactStorage(baseDir string) *ArtifactStorage {
	return &ArtifactStorage{BaseDir: baseDir}
}

// JobDir returns the directory holding a job's artifacts.
func (s *ArtifactStorage) JobDir(jobID string) string {
	return filepath.Join(s.BaseDir, sanitize(jobID))
}

// SaveFlows writes flows as flow_1.yaml, flow_2.yaml, ... and returns their paths.
func (s *ArtifactStorage) SaveFlows(jobID string, flows []string) ([]string, error) {
	dir := s.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(flows))
	for i, f := range flows {
		p := filepath.Join(dir, fmt.Sprintf("flow_%d.yaml", i+1))
		if err := os.WriteFile(p, []byte(f), 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// SaveLog writes command output next to the job's flows.
func (s *ArtifactStorage) SaveLog(jobID, name, output string) (string, error) {
	dir := s.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	// Timestamped so repeated runs do not overwrite each other.
	timestamp := time.Now().Format("20060102_150405")
	p := filepath.Join(dir, fmt.Sprintf("%s_%s.log", sanitize(name), timestamp))
	if err := os.WriteFile(p, []byte(output), 0o644); err != nil {
		return "", err
	}
	return p, nil
}

// sanitize keeps only characters that are safe in a file name.
func sanitize(name string) string {
	clean := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			clean = append(clean, r)
		}
	}
	if len(clean) == 0 {
		return "job"
	}
	return string(clean)
}
