package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveFlows(t *testing.T) {
	s := NewArtifactStorage(t.TempDir())

	paths, err := s.SaveFlows("0b6c-42", []string{"a\n", "b\n"})
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(s.BaseDir, "0b6c-42", "flow_2.yaml"), paths[1])

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(data))
}

func TestJobIDCannotEscapeBaseDir(t *testing.T) {
	s := NewArtifactStorage(t.TempDir())
	assert.Equal(t, filepath.Join(s.BaseDir, "etcpasswd"), s.JobDir("../../etc/passwd"))
	assert.Equal(t, filepath.Join(s.BaseDir, "job"), s.JobDir("../"))
}

func TestSaveLog(t *testing.T) {
	s := NewArtifactStorage(t.TempDir())
	p, err := s.SaveLog("j1", "maestro test/flow_1", "ok")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(p), "maestrotestflow_1_"))
}
