package participant

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"clientsim/internal/auth"
	"clientsim/internal/config"
	"clientsim/pkg/model"
)

func sampleQuery(t *testing.T) Query {
	t.Helper()
	cfg := testConfig(t, func(s *config.Settings) {
		s.Blur = true
		s.Resolution = model.ResolutionP480
		s.NoiseSuppression = model.NoiseSuppressionDeepfilternet
		s.FakeMedia = "https://media.example.com/clip.y4m"
	})
	q, err := NewQuery(cfg, "http://worker-a:8081/")
	require.NoError(t, err)
	return q
}

func TestQueryRoundTrip(t *testing.T) {
	q := sampleQuery(t)
	token := "tok"
	q.Cookie = &token

	payload, err := q.Encode()
	require.NoError(t, err)
	got, err := DecodeQuery(payload)
	require.NoError(t, err)
	assert.Equal(t, q, got)

	q.Cookie = nil
	payload, err = q.Encode()
	require.NoError(t, err)
	got, err = DecodeQuery(payload)
	require.NoError(t, err)
	assert.Equal(t, q, got)
}

func TestQueryWireShape(t *testing.T) {
	q := sampleQuery(t)
	b, err := json.Marshal(q)
	require.NoError(t, err)

	r := gjson.ParseBytes(b)
	assert.Equal(t, "alice", r.Get("username").String())
	assert.Equal(t, "https://demo.hyper.video", r.Get("base_url").String())
	assert.Equal(t, "https://media.example.com/clip.y4m", r.Get("fake_media.url").String())
	assert.Equal(t, "deepfilternet", r.Get("noise_suppression").String())
	assert.Equal(t, "P480", r.Get("resolution").String())
	assert.False(t, r.Get("cookie").Exists())
}

func TestNewQueryLocalMediaFallsBackToBuiltin(t *testing.T) {
	cfg := testConfig(t, func(s *config.Settings) { s.FakeMedia = "/home/me/voice.wav" })
	q, err := NewQuery(cfg, "ws://worker:8081")
	require.NoError(t, err)
	assert.Equal(t, model.BuiltinFakeMedia(), q.FakeMedia)

	_, err = NewQuery(cfg, "ftp://worker")
	assert.Error(t, err)
}

func TestConnectURL(t *testing.T) {
	q := sampleQuery(t)
	raw, err := q.ConnectURL()
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "ws", u.Scheme)
	assert.Equal(t, "worker-a:8081", u.Host)

	got, err := DecodeQuery(u.Query().Get(PayloadParam))
	require.NoError(t, err)
	assert.Equal(t, q, got)
}

func TestDecodeQueryErrors(t *testing.T) {
	_, err := DecodeQuery("!!!not base64")
	assert.Error(t, err)

	_, err = DecodeQuery(base64.StdEncoding.EncodeToString([]byte(`{"username":""}`)))
	assert.Error(t, err)

	_, err = DecodeQuery(base64.StdEncoding.EncodeToString([]byte(`{"username":"a","session_url":"nope"}`)))
	assert.Error(t, err)
}

func TestQueryParticipantConfig(t *testing.T) {
	q := sampleQuery(t)
	cfg, err := q.ParticipantConfig(config.BrowserConfig{WindowWidth: 800})
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Username)
	assert.Equal(t, "demo.hyper.video", cfg.Domain())
	assert.True(t, cfg.Settings.Blur)
	assert.Equal(t, model.FrontendClassic, cfg.Settings.Frontend)
	assert.Equal(t, model.FakeMediaFile, cfg.Settings.Media().Kind)
	assert.Equal(t, 800, cfg.Browser.WindowWidth)
}

func TestEnsureCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/guest" {
			http.SetCookie(w, &http.Cookie{Name: auth.SessionCookieName, Value: "fresh"})
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := sampleQuery(t)
	q.BaseURL = srv.URL
	pool := auth.NewPool()

	c, err := q.EnsureCookie(context.Background(), pool)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.NotNil(t, q.Cookie)
	assert.Equal(t, "fresh", *q.Cookie)
	assert.Equal(t, "alice", c.Username())

	again, err := q.EnsureCookie(context.Background(), pool)
	require.NoError(t, err)
	assert.Nil(t, again)

	c.Release()
	assert.Equal(t, 1, pool.Len(srv.URL))
}
