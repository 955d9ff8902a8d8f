package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svc.log")
	log, err := New(Config{Level: "debug", Format: "console", OutputPath: path})
	require.NoError(t, err)

	log.Named("test").WithField("k", 1).Info("hello", String("a", "b"), Int("n", 2))
	assert.FileExists(t, path)
}

func TestNopDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().WithFields(map[string]interface{}{"a": 1}).Error("boom", Error(assert.AnError))
	})
}
