package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhdandz/SmartDoc/internal/errs"
)

func newEasyOCRServer(t *testing.T, healthy bool, results []easyOCRDetection) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(easyOCRHealth{Status: "ok", Version: "1.7.1"})
	})
	mux.HandleFunc("/readtext", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "vi,en", r.FormValue("langs"))
		_, hdr, err := r.FormFile("image")
		require.NoError(t, err)
		assert.Equal(t, "page.png", hdr.Filename)
		_ = json.NewEncoder(w).Encode(easyOCRResponse{Results: results})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEasyOCR_RecognizeImage(t *testing.T) {
	srv := newEasyOCRServer(t, true, []easyOCRDetection{
		{Text: "Công ty", Confidence: 0.9},
		{Text: "noise", Confidence: 0.3},
		{Text: "ABC", Confidence: 0.7},
	})
	img := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, os.WriteFile(img, []byte("png"), 0o600))

	a, err := NewAdapter(context.Background(), NewEasyOCR(srv.Client(), srv.URL+"/", "vie+eng"), nil)
	require.NoError(t, err)
	assert.Equal(t, EngineEasyOCR, a.Engine())
	assert.Equal(t, "easyocr 1.7.1", a.EngineVersion())

	res, err := a.Recognize(context.Background(), img, "png")

	require.NoError(t, err)
	assert.Equal(t, "Công ty ABC", res.Text)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
}

func TestEasyOCR_Unhealthy(t *testing.T) {
	srv := newEasyOCRServer(t, false, nil)

	_, err := NewAdapter(context.Background(), NewEasyOCR(srv.Client(), srv.URL, "vie+eng"), nil)

	assert.ErrorIs(t, err, errs.ErrBackendUnavailable)
}

func TestEasyOCRLangs(t *testing.T) {
	assert.Equal(t, []string{"vi", "en"}, easyOCRLangs("vie+eng"))
	assert.Equal(t, []string{"vi"}, easyOCRLangs("vie"))
	assert.Equal(t, []string{"vi", "en"}, easyOCRLangs(""))
	assert.Equal(t, []string{"ja", "en"}, easyOCRLangs("ja+eng"))
}

func TestFilterDetections_Empty(t *testing.T) {
	res := filterDetections([]easyOCRDetection{{Text: "x", Confidence: 0.1}, {Text: " ", Confidence: 0.9}})
	assert.Empty(t, res.Text)
	assert.Zero(t, res.Confidence)
}
