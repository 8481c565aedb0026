package reader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/models"
	"storybook-server/internal/playback"
)

func TestRunSession_PagesThroughDemo(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("n\nn\nn\np\nq\n")

	err := RunSession(models.DemoStory(), playback.UnsupportedEngine{}, in, &out, zap.NewNop())
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "=== Page 1 ===")
	assert.Contains(t, text, "=== Page 2/3 ===")
	assert.Contains(t, text, "=== Page 4/5 ===")
	assert.Contains(t, text, "(last page)")
	assert.Contains(t, text, "[cover] Barnaby Bear and the Fallen Star")
}

func TestRunSession_NarrationUnsupported(t *testing.T) {
	var out bytes.Buffer
	err := RunSession(models.DemoStory(), playback.UnsupportedEngine{}, strings.NewReader("r\n"), &out, zap.NewNop())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "not supported")
}

func TestRunSession_UnknownCommandPrintsHelp(t *testing.T) {
	var out bytes.Buffer
	err := RunSession(models.DemoStory(), nil, strings.NewReader("x\nq\n"), &out, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out.String(), helpText))
}

func TestShortImage(t *testing.T) {
	assert.Equal(t, "data:image/png;base64,…", shortImage("data:image/png;base64,AAAA"))
	assert.Equal(t, "https://x/y.png", shortImage("https://x/y.png"))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "story.json")
	data, err := json.Marshal(models.DemoStory())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	story, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, story.Pages, 5)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	_, err = LoadFile(bad)
	assert.True(t, errors.Is(err, models.ErrValidation))

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"title":"x","pages":[]}`), 0o600))
	_, err = LoadFile(empty)
	assert.Error(t, err)
}

func TestFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/v1/stories/" + models.DemoStoryID:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(models.DemoStory())
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL+"/", "tok", time.Second)
	story, err := f.Fetch(context.Background(), models.DemoStoryID)
	require.NoError(t, err)
	assert.Equal(t, models.DemoStoryID, story.ID)

	_, err = f.Fetch(context.Background(), "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand(&config.ReaderConfig{TTSCommand: "espeak", APIBaseURL: "http://localhost:8080"}, zap.NewNop())
	for _, name := range []string{"open", "fetch", "demo"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}

	tts := cmd.PersistentFlags().Lookup("tts")
	require.NotNil(t, tts)
	assert.Equal(t, "espeak", tts.DefValue)

	fetch, _, _ := cmd.Find([]string{"fetch"})
	assert.Equal(t, "http://localhost:8080", fetch.Flags().Lookup("api").DefValue)
}

func TestDemoCommand(t *testing.T) {
	cmd := NewRootCommand(&config.ReaderConfig{}, zap.NewNop())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("q\n"))
	cmd.SetArgs([]string{"demo", "--tts", ""})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Barnaby Bear")
}
