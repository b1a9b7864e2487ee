package flock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireStampsPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")
	f, err := Acquire(path)
	require.NoError(t, err)
	defer Release(f)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err, "lock file should contain a pid")
	require.Equal(t, os.Getpid(), pid)
}

func TestAcquireRejectsSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")
	f1, err := Acquire(path)
	require.NoError(t, err)
	defer Release(f1)

	_, err = Acquire(path)
	require.Error(t, err, "expected a second Acquire on the same path to fail")
}

func TestReleaseThenReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")
	f1, err := Acquire(path)
	require.NoError(t, err)
	Release(f1)

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err), "expected Release to remove the lock file")

	f2, err := Acquire(path)
	require.NoError(t, err, "expected reacquire to succeed after release")
	Release(f2)
}

func TestReleaseNilIsSafe(t *testing.T) {
	require.NotPanics(t, func() { Release(nil) })
}
