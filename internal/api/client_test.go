package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://archive.local:5000/", "k")
	assert.Equal(t, "http://archive.local:5000", c.baseURL)
}

func TestHealthcheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"unavailable", http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, healthPath, r.URL.Path)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := New(srv.URL, "").Healthcheck(context.Background())
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.Code)
		})
	}
}

func TestHealthcheck_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	assert.Error(t, New(url, "").Healthcheck(context.Background()))
}

func writeExport(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestUpload_SendsMetadataAndFile(t *testing.T) {
	fields := map[string]string{}
	var content []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, uploadPath, r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for k := range r.MultipartForm.Value {
			fields[k] = r.FormValue(k)
		}
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		fields["file.name"] = hdr.Filename
		content, _ = io.ReadAll(f)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	path := writeExport(t, "circuit_20240501_093000.json", `{"samples":[]}`)
	err := New(srv.URL, "s3cret").Upload(path, Metadata{
		SessionID:       "0b6f",
		SessionName:     "circuit",
		Source:          "local",
		DurationSeconds: 95.25,
		Samples:         4763,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"secret":      "s3cret",
		"filename":    "circuit_20240501_093000.json",
		"sessionId":   "0b6f",
		"sessionName": "circuit",
		"source":      "local",
		"duration":    "95.250",
		"samples":     "4763",
		"file.name":   "circuit_20240501_093000.json",
	}, fields)
	assert.Equal(t, `{"samples":[]}`, string(content))
}

func TestUpload_MissingFile(t *testing.T) {
	err := New("http://127.0.0.1:1", "").Upload(filepath.Join(t.TempDir(), "gone.json"), Metadata{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUpload_RejectedCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "bad secret", http.StatusForbidden)
	}))
	defer srv.Close()

	err := New(srv.URL, "wrong").Upload(writeExport(t, "flight.json", "{}"), Metadata{})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Equal(t, "bad secret", se.Body)
}

func TestUploadContext_Canceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := New(srv.URL, "").UploadContext(ctx, writeExport(t, "flight.json", "{}"), Metadata{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
