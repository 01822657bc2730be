package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscribeUploadsAudio(t *testing.T) {
	audioPath := filepath.Join(t.TempDir(), "memo.m4a")
	require.NoError(t, os.WriteFile(audioPath, []byte("fake audio bytes"), 0o644))

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, transcriptionModel, r.FormValue("model"))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		file.Close()
		assert.Equal(t, "memo.m4a", header.Filename)

		json.NewEncoder(w).Encode(map[string]string{"text": "remember to water the plants"})
	})

	text, usage, err := client.Transcribe(context.Background(), audioPath)
	require.NoError(t, err)
	assert.Equal(t, "remember to water the plants", text)
	assert.NotNil(t, usage)
}

func TestTranscribeMissingFile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, _, err := client.Transcribe(context.Background(), filepath.Join(t.TempDir(), "absent.m4a"))
	require.Error(t, err)
}
