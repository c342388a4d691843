package capability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerboseTranscription(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		fallback string
		want     int
		wantText string
	}{
		{
			name: "segments",
			raw:  `{"text":"a b","language":"english","segments":[{"start":0,"end":10,"text":" a "},{"start":10,"end":20,"text":"b"},{"start":20,"end":21,"text":"  "}]}`,
			want: 2, wantText: "a b",
		},
		{name: "text only", raw: `{"text":"hello"}`, want: 1, wantText: "hello"},
		{name: "empty body uses fallback", raw: "", fallback: "hi", want: 1, wantText: "hi"},
		{name: "silence", raw: `{"text":""}`, want: 0, wantText: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVerboseTranscription(tt.raw, tt.fallback)
			require.NoError(t, err)
			assert.Len(t, got.Segments, tt.want)
			assert.Equal(t, tt.wantText, got.Text)
		})
	}

	_, err := parseVerboseTranscription("{", "")
	assert.Error(t, err)
}

func TestWhisperTranscribe(t *testing.T) {
	var gotModel, gotFormat, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotModel = r.FormValue("model")
		gotFormat = r.FormValue("response_format")
		gotAuth = r.Header.Get("Authorization")
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		body, _ := io.ReadAll(f)
		assert.Equal(t, "RIFF", string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"Intro. Main.","language":"english","segments":[{"start":0,"end":10,"text":"Intro."},{"start":10,"end":20,"text":"Main."}]}`)
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o644))

	w, err := NewWhisper(WhisperConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test"}, nil, nil)
	require.NoError(t, err)

	transcript, err := w.Transcribe(context.Background(), audio)
	require.NoError(t, err)

	assert.Equal(t, "whisper-1", gotModel)
	assert.Equal(t, "verbose_json", gotFormat)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	require.Len(t, transcript.Segments, 2)
	assert.Equal(t, 10.0, transcript.Segments[1].Start)
	assert.Equal(t, "Main.", transcript.Segments[1].Text)
}

func TestWhisperErrors(t *testing.T) {
	_, err := NewWhisper(WhisperConfig{}, nil, nil)
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad audio"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	w, err := NewWhisper(WhisperConfig{BaseURL: srv.URL + "/", APIKey: "k"}, nil, nil)
	require.NoError(t, err)

	_, err = w.Transcribe(context.Background(), "/does/not/exist.wav")
	assert.ErrorContains(t, err, "open audio")

	audio := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(audio, []byte("x"), 0o644))
	_, err = w.Transcribe(context.Background(), audio)
	assert.ErrorContains(t, err, "transcribe")
}
