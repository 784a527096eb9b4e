package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestBorrowAndReturn(t *testing.T) {
	p := NewPool()
	assert.Nil(t, p.GiveCookie("example.com"))

	p.Borrow(NewHyperSessionCookie("example.com", "alice", "t1")).Release()
	require.Equal(t, 1, p.Len("example.com"))

	b := p.GiveCookie("example.com")
	require.NotNil(t, b)
	assert.Equal(t, "alice", b.Username())
	assert.Nil(t, p.GiveCookie("example.com"))

	b.Release()
	again := p.GiveCookie("example.com")
	require.NotNil(t, again)
	assert.Equal(t, "alice", again.Username())
}

func TestReleaseIsIdempotent(t *testing.T) {
	p := NewPool()
	b := p.Borrow(NewHyperSessionCookie("example.com", "bob", "t"))
	b.Release()
	b.Release()
	assert.Equal(t, 1, p.Len("example.com"))

	var nilCookie *BorrowedCookie
	assert.NotPanics(t, nilCookie.Release)
}

func TestGiveCookieFIFO(t *testing.T) {
	p := NewPool()
	for _, name := range []string{"a", "b", "c"} {
		p.Borrow(NewHyperSessionCookie("https://demo.hyper.video/", name, name)).Release()
	}
	for _, want := range []string{"a", "b", "c"} {
		b := p.GiveCookie("https://demo.hyper.video")
		require.NotNil(t, b)
		assert.Equal(t, want, b.Username())
	}
}

func TestReleaseOnErrorPath(t *testing.T) {
	p := NewPool()
	p.Borrow(NewHyperSessionCookie("example.com", "carol", "t")).Release()

	use := func() (err error) {
		b := p.GiveCookie("example.com")
		defer b.Release()
		return io.ErrUnexpectedEOF
	}
	require.Error(t, use())
	assert.Equal(t, 1, p.Len("example.com"))
}

func newGuestServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/guest", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "guest", r.URL.Query().Get("username"))
		http.SetCookie(w, &http.Cookie{Name: SessionCookieName, Value: "tok-123", Path: "/"})
		http.Redirect(w, r, "/somewhere", http.StatusFound)
	})
	mux.HandleFunc("/api/v1/auth/me/name", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, SessionCookieName+"=tok-123", r.Header.Get("Cookie"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "orch-7", gjson.GetBytes(body, "name").String())
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/somewhere", func(w http.ResponseWriter, r *http.Request) {
		t.Error("redirect must not be followed")
	})
	return httptest.NewServer(mux)
}

func TestFetchNewCookie(t *testing.T) {
	var calls atomic.Int32
	srv := newGuestServer(t, &calls)
	defer srv.Close()

	stashPath := filepath.Join(t.TempDir(), "cookies.json")
	stash := NewStash(stashPath, []string{"127.0.0.1"})
	p := NewPool(WithStash(stash))

	b, err := p.FetchNewCookie(context.Background(), srv.URL+"/", "orch-7")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", b.Token())
	assert.Equal(t, "orch-7", b.Username())
	assert.Equal(t, srv.URL, b.Domain())
	c := b.Cookie()
	assert.WithinDuration(t, c.CreatedAt.Add(CookieLifetime), c.ExpiresAt, time.Second)
	assert.Equal(t, int32(1), calls.Load())

	data, err := stash.Read()
	require.NoError(t, err)
	require.Len(t, data.Cookies[srv.URL], 1)
	assert.Equal(t, "orch-7", data.Cookies[srv.URL][0].Username)

	b.Release()
	assert.Equal(t, 1, p.Len(srv.URL))
}

func TestFetchNewCookieWithoutSessionCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewPool().FetchNewCookie(context.Background(), srv.URL, "x")
	assert.ErrorIs(t, err, ErrNoSessionCookie)
}

func TestStashFiltersDomains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cookies.json")
	stash := NewStash(path, []string{"hyper.video"})

	require.NoError(t, stash.Append(NewHyperSessionCookie("https://demo.hyper.video", "a", "1")))
	require.NoError(t, stash.Append(NewHyperSessionCookie("http://localhost:8080", "b", "2")))

	data, err := stash.Read()
	require.NoError(t, err)
	assert.Len(t, data.Cookies, 1)
	assert.Contains(t, data.Cookies, "https://demo.hyper.video")

	assert.True(t, stash.Allowed("hyper.video"))
	assert.False(t, stash.Allowed("https://nothyper.video"))
}

func TestLoadPoolSkipsExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	stash := NewStash(path, []string{"hyper.video"})

	expired := NewHyperSessionCookie("https://demo.hyper.video", "old", "1")
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	fresh := NewHyperSessionCookie("https://demo.hyper.video", "new", "2")
	require.NoError(t, stash.Save(HyperSessionCookieStash{Cookies: map[string][]HyperSessionCookie{
		"https://demo.hyper.video": {expired, fresh},
	}}))

	p, err := LoadPool(WithStash(stash))
	require.NoError(t, err)
	require.Equal(t, 1, p.Len("https://demo.hyper.video"))
	assert.Equal(t, "new", p.GiveCookie("https://demo.hyper.video").Username())
}

func TestStashJSONLayout(t *testing.T) {
	c := NewHyperSessionCookie("https://demo.hyper.video", "a", "1")
	raw, err := json.Marshal(HyperSessionCookieStash{Cookies: map[string][]HyperSessionCookie{c.Domain: {c}}})
	require.NoError(t, err)

	var entry gjson.Result
	gjson.GetBytes(raw, "cookies").ForEach(func(_, v gjson.Result) bool {
		entry = v.Get("0")
		return false
	})
	require.True(t, entry.Exists())
	for _, key := range []string{"domain", "created_at", "expires_at", "username", "cookie"} {
		assert.True(t, entry.Get(key).Exists(), key)
	}
}

func TestCheckValidity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") == SessionCookieName+"=good" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(nil)
	ok, err := c.CheckValidity(context.Background(), srv.URL, "good")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.CheckValidity(context.Background(), srv.URL, "bad")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnpooledRelease(t *testing.T) {
	b := Unpooled(NewHyperSessionCookie("https://demo.hyper.video/", "eve", "t"))
	assert.Equal(t, "https://demo.hyper.video", b.Domain())
	assert.NotPanics(t, b.Release)
}

func TestCapacityDropsExtraCookies(t *testing.T) {
	p := NewPool(WithCapacity(2))
	for _, name := range []string{"a", "b", "c"} {
		p.Borrow(NewHyperSessionCookie("example.com", name, name)).Release()
	}
	assert.Equal(t, 2, p.Len("example.com"))

	first := p.GiveCookie("example.com")
	require.NotNil(t, first)
	assert.Equal(t, "a", first.Username())
	first.Release()
	assert.Equal(t, 2, p.Len("example.com"))
}
