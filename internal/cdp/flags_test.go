package cdp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientsim/internal/config"
	"clientsim/pkg/model"
)

func flagMap(fs []Flag) map[flags.Flag][]string {
	m := make(map[flags.Flag][]string, len(fs))
	for _, f := range fs {
		m[f.Name] = f.Values
	}
	return m
}

func TestLaunchFlagsBuiltinHeadless(t *testing.T) {
	s := config.DefaultSettings()
	m := flagMap(LaunchFlags(s, config.BrowserConfig{}, MediaFiles{}))

	assert.Contains(t, m, flags.Flag("no-startup-window"))
	assert.Contains(t, m, flags.Flag("use-fake-device-for-media-stream"))
	assert.Contains(t, m, flags.Flag("use-fake-ui-for-media-stream"))
	assert.Contains(t, m, flags.Flag("no-sandbox"))
	assert.NotContains(t, m, flags.Flag("window-size"))
}

func TestLaunchFlagsNoMediaHeadful(t *testing.T) {
	s := config.DefaultSettings()
	s.FakeMedia = "<none>"
	s.Headless = false
	m := flagMap(LaunchFlags(s, config.BrowserConfig{}, MediaFiles{}))

	assert.NotContains(t, m, flags.Flag("use-fake-device-for-media-stream"))
	assert.Equal(t, []string{"1920,1080"}, m["window-size"])
}

func TestLaunchFlagsMediaFiles(t *testing.T) {
	s := config.DefaultSettings()
	s.FakeMedia = "/tmp/a.wav"
	m := flagMap(LaunchFlags(s, config.BrowserConfig{}, MediaFiles{Audio: "/tmp/a.wav", Video: "/tmp/b.y4m"}))

	assert.Equal(t, []string{"/tmp/a.wav"}, m["use-file-for-fake-audio-capture"])
	assert.Equal(t, []string{"/tmp/b.y4m"}, m["use-file-for-fake-video-capture"])
}

func TestResolveMediaLocalFile(t *testing.T) {
	dir := t.TempDir()
	wav := filepath.Join(dir, "voice.wav")
	require.NoError(t, os.WriteFile(wav, []byte("RIFF"), 0o600))

	files, err := ResolveMedia(context.Background(), model.ParseFakeMedia(wav), dir)
	require.NoError(t, err)
	assert.Equal(t, MediaFiles{Audio: wav}, files)

	_, err = ResolveMedia(context.Background(), model.ParseFakeMedia(filepath.Join(dir, "clip.mp4")), dir)
	assert.Error(t, err)
}

func TestResolveMediaDownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("YUV4MPEG2"))
	}))
	defer srv.Close()

	cache := t.TempDir()
	fm := model.ParseFakeMedia(srv.URL + "/media/clip.y4m")
	first, err := ResolveMedia(context.Background(), fm, cache)
	require.NoError(t, err)
	assert.Equal(t, "clip.y4m", filepath.Base(first.Video))

	second, err := ResolveMedia(context.Background(), fm, cache)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load())
}

func TestResolveMediaBuiltin(t *testing.T) {
	files, err := ResolveMedia(context.Background(), model.BuiltinFakeMedia(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, MediaFiles{}, files)
}

func TestDevtoolsHTTP(t *testing.T) {
	got, err := devtoolsHTTP("ws://127.0.0.1:9222/devtools/browser/abc")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9222", got)
}

func TestNewLauncherKeepsLeakless(t *testing.T) {
	cfg := config.ParticipantConfig{Settings: config.DefaultSettings()}
	lc := newLauncher("/usr/bin/chromium", cfg, MediaFiles{})

	assert.True(t, lc.Has(flags.Leakless))
	assert.Equal(t, "/usr/bin/chromium", lc.Get(flags.Bin))
	assert.True(t, lc.Has(flags.Flag("use-fake-ui-for-media-stream")))
}
