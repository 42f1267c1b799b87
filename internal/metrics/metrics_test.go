package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ClassScanned()
	m.ClassScanned()
	m.ClassMalformed()
	m.RecordAdded()
	m.FragmentWritten()
	m.FragmentUnchanged()
	m.FragmentReadFailed()
	m.ObservePass(time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ClassesScanned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassesMalformed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsAdded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FragmentsWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FragmentsUnchanged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FragmentReadFailures))
	n, err := testutil.GatherAndCount(m.Registry())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestNilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ClassScanned()
		m.ClassMalformed()
		m.RecordAdded()
		m.FragmentWritten()
		m.FragmentUnchanged()
		m.FragmentReadFailed()
		m.ObservePass(time.Now())
	})
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.FragmentWritten()
	path := filepath.Join(t.TempDir(), "class_index.prom")
	require.NoError(t, m.WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "class_index_fragments_written_total 1")
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ClassScanned()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ClassesScanned))
}
