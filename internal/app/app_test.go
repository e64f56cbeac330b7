package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhdandz/SmartDoc/internal/config"
	"github.com/nhdandz/SmartDoc/pkg/memindex"
)

func TestOpenVectorIndex(t *testing.T) {
	tests := []struct {
		driver  string
		wantNil bool
		wantErr bool
	}{
		{"memory", false, false},
		{" Memory ", false, false},
		{"none", true, false},
		{"", true, false},
		{"faiss", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			var cfg config.Config
			cfg.VectorIndex.Driver = tt.driver

			index, closeFn, err := openVectorIndex(context.Background(), cfg)

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Nil(t, closeFn)
			if tt.wantNil {
				assert.Nil(t, index)
			} else {
				assert.IsType(t, &memindex.Index{}, index)
			}
		})
	}
}

func TestWireBackends_Degrades(t *testing.T) {
	a := &App{}
	a.Config.VectorIndex.Driver = "faiss"

	a.wireBackends(context.Background())

	assert.False(t, a.Caps.HasVectorIndex)
	assert.False(t, a.Caps.HasEmbeddings)
	assert.False(t, a.Caps.HasLanguageModel)
	assert.Nil(t, a.Embedder)
	assert.Nil(t, a.LLM)
	assert.Nil(t, a.Index)
}

func TestWireBackends_Configured(t *testing.T) {
	a := &App{}
	a.Config.VectorIndex.Driver = DriverMemory
	a.Config.Embedding = config.EmbeddingConfig{BaseURL: "http://embed", Model: "bge-m3", RequestsPerSecond: 5, Burst: 1}
	a.Config.LLM = config.LLMConfig{BaseURL: "http://llm", Model: "qwen"}

	a.wireBackends(context.Background())

	assert.True(t, a.Caps.CanIndex())
	assert.True(t, a.Caps.HasLanguageModel)
	assert.Equal(t, "bge-m3", a.Embedder.Model())
}

func TestMaintenanceDirs(t *testing.T) {
	a := &App{}
	a.Config.OCR.TempDir = "/tmp/ocr"
	assert.Equal(t, []string{"/tmp/ocr"}, a.MaintenanceDirs())

	a.Config.Maintenance.TempDirs = []string{"/a", "/b"}
	assert.Equal(t, []string{"/a", "/b"}, a.MaintenanceDirs())

	assert.Empty(t, (&App{}).MaintenanceDirs())
}
