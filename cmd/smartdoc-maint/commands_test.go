package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhdandz/SmartDoc/internal/config"
	"github.com/nhdandz/SmartDoc/internal/service"
)

type fakeMaintenance struct {
	reprocessed []string
	failIDs     map[string]bool
}

func (f *fakeMaintenance) CleanupTempFiles(context.Context) service.CleanupReport {
	return service.CleanupReport{Scanned: 3, Removed: 2}
}

func (f *fakeMaintenance) ReindexAll(context.Context) (service.ReindexReport, error) {
	return service.ReindexReport{Total: 4, Indexed: 4}, nil
}

func (f *fakeMaintenance) Backup(context.Context) (service.BackupReport, error) {
	return service.BackupReport{Skipped: true}, nil
}

func (f *fakeMaintenance) ReprocessDocuments(_ context.Context, ids []string) service.BatchReport {
	f.reprocessed = ids
	var r service.BatchReport
	for _, id := range ids {
		if f.failIDs[id] {
			r.Failed++
			r.FailedDocuments = append(r.FailedDocuments, id)
			continue
		}
		r.Processed++
	}
	return r
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: error\nocr:\n  temp_dir: /tmp/smartdoc-ocr\n"), 0o600))
	return path
}

func execute(t *testing.T, fake *fakeMaintenance, args ...string) (map[string]interface{}, []bool, error) {
	t.Helper()
	var out bytes.Buffer
	var connects []bool
	factory := func(_ context.Context, cfg config.Config, connect bool) (service.MaintenanceService, func(), error) {
		assert.Equal(t, "/tmp/smartdoc-ocr", cfg.OCR.TempDir)
		connects = append(connects, connect)
		return fake, func() {}, nil
	}
	cmd := buildRootCmd(factory, &out)
	cmd.SetArgs(append([]string{"--config", writeConfig(t)}, args...))
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()

	var report map[string]interface{}
	if out.Len() > 0 {
		require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	}
	return report, connects, err
}

func TestCommands(t *testing.T) {
	tests := []struct {
		args    []string
		connect bool
		key     string
		want    interface{}
	}{
		{[]string{"cleanup"}, false, "removed", float64(2)},
		{[]string{"reindex"}, true, "indexed", float64(4)},
		{[]string{"backup"}, false, "skipped", true},
		{[]string{"reprocess", "a", "b"}, true, "processed", float64(2)},
	}
	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			report, connects, err := execute(t, &fakeMaintenance{}, tt.args...)

			require.NoError(t, err)
			assert.Equal(t, []bool{tt.connect}, connects)
			assert.Equal(t, tt.want, report[tt.key])
		})
	}
}

func TestReprocess_FailureExitsNonZero(t *testing.T) {
	fake := &fakeMaintenance{failIDs: map[string]bool{"b": true}}

	report, _, err := execute(t, fake, "reprocess", "a", "b")

	require.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, fake.reprocessed)
	assert.Equal(t, []interface{}{"b"}, report["failed_documents"])
}

func TestReprocess_RequiresIDs(t *testing.T) {
	_, connects, err := execute(t, &fakeMaintenance{}, "reprocess")

	require.Error(t, err)
	assert.Empty(t, connects)
}
