package participant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientsim/internal/auth"
	"clientsim/internal/config"
	"clientsim/internal/logger"
	"clientsim/pkg/model"
)

func waitState(t *testing.T, p *Participant, pred func(model.ParticipantState) bool) model.ParticipantState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := p.Watch().WaitFor(ctx, pred)
	require.NoError(t, err, "last state: %+v", s)
	return s
}

func joined(s model.ParticipantState) bool { return s.Running && s.Joined }

func waitDone(t *testing.T, p *Participant) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("participant did not stop")
	}
}

func TestActorJoinAndClose(t *testing.T) {
	page := newFakePage(classicFrontend)
	browser := newFakeBrowser(page)
	pool := auth.NewPool()
	cookie := pool.Borrow(auth.NewHyperSessionCookie("https://demo.hyper.video", "alice", "tok-1"))

	cfg := testConfig(t, nil)
	opts := append(fastOptions(browser), WithPool(pool), WithCookie(cookie))
	p, err := Spawn(context.Background(), Spec{Local: &cfg}, opts...)
	require.NoError(t, err)

	s := waitState(t, p, joined)
	assert.Equal(t, "alice", s.Username)
	assert.False(t, s.Muted)
	assert.True(t, s.VideoActivated)
	assert.Equal(t, model.TransportWebTransport, s.TransportMode)

	snap := page.snapshot()
	assert.Equal(t, []string{"hyper_session=tok-1@demo.hyper.video"}, snap.cookies)
	assert.Equal(t, "alice", snap.filled[classicFrontend.nameInput])
	assert.Equal(t, 0, pool.Len("https://demo.hyper.video"))

	require.NoError(t, p.Close(context.Background()))
	waitDone(t, p)

	final := p.State()
	assert.False(t, final.Running)
	assert.False(t, final.Joined)
	assert.NoError(t, p.Err())
	assert.Equal(t, 1, page.count(classicFrontend.leave))
	assert.True(t, page.snapshot().closed)
	_, killed, closed := browser.status()
	assert.True(t, closed)
	assert.False(t, killed)
	<-browser.runExited

	// cookie 随 actor 结束归还
	assert.Equal(t, 1, pool.Len("https://demo.hyper.video"))

	// 再次关闭不做任何事
	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 1, page.count(classicFrontend.leave))
}

func TestJoinWhileJoinedDoesNotNavigate(t *testing.T) {
	page := newFakePage(classicFrontend)
	browser := newFakeBrowser(page)
	cfg := testConfig(t, nil)
	p, err := Spawn(context.Background(), Spec{Local: &cfg}, fastOptions(browser)...)
	require.NoError(t, err)
	defer p.Stop()

	before := waitState(t, p, joined)
	navigations := page.snapshot().navigations
	version := p.Watch().Version()

	require.NoError(t, p.Send(model.Message(model.CmdJoin)))
	require.NoError(t, p.Send(model.Message(model.CmdToggleAudio)))
	after := waitState(t, p, func(s model.ParticipantState) bool { return s.Muted })

	assert.Equal(t, navigations, page.snapshot().navigations)
	assert.Equal(t, before.VideoActivated, after.VideoActivated)
	// 只有 ToggleAudio 之后的一次刷新
	assert.Equal(t, version+1, p.Watch().Version())
	assert.Equal(t, 1, page.count(classicFrontend.joinButton))
}

func TestPageAcquisitionReturnsSixthError(t *testing.T) {
	browser := newFakeBrowser(newFakePage(classicFrontend))
	browser.failPages = 100

	o := options{timings: defaultTimings()}
	o.timings.retryInitial = time.Millisecond
	o.timings.retryMax = 2 * time.Millisecond
	a := newActor(testConfig(t, nil), o, logger.NewNop(),
		NewWatch(model.ParticipantState{}), make(chan model.ParticipantMessage))
	a.browser = browser

	err := a.acquirePage(context.Background())
	require.Error(t, err)

	browser.mu.Lock()
	defer browser.mu.Unlock()
	assert.Equal(t, maxPageRetries+1, browser.newPages)
	require.Len(t, browser.pageErrs, maxPageRetries+1)
	assert.Same(t, browser.pageErrs[maxPageRetries], err)
}

func TestPageAcquisitionRecovers(t *testing.T) {
	page := newFakePage(classicFrontend)
	browser := newFakeBrowser(page)
	browser.failPages = 3
	cfg := testConfig(t, nil)
	p, err := Spawn(context.Background(), Spec{Local: &cfg}, fastOptions(browser)...)
	require.NoError(t, err)
	defer p.Stop()

	waitState(t, p, joined)
	newPages, _, _ := browser.status()
	assert.Equal(t, 4, newPages)
}

func TestInitialJoinFailureIsAbsorbed(t *testing.T) {
	page := newFakePage(classicFrontend)
	page.neverJoin = true
	browser := newFakeBrowser(page)
	cfg := testConfig(t, nil)
	p, err := Spawn(context.Background(), Spec{Local: &cfg}, fastOptions(browser)...)
	require.NoError(t, err)

	waitDone(t, p)
	assert.NoError(t, p.Err())
	assert.False(t, p.State().Running)
	_, killed, _ := browser.status()
	assert.True(t, killed)
	assert.ErrorIs(t, p.Join(), ErrNotRunning)
}

func TestDetachEndsActor(t *testing.T) {
	page := newFakePage(classicFrontend)
	browser := newFakeBrowser(page)
	cfg := testConfig(t, nil)
	p, err := Spawn(context.Background(), Spec{Local: &cfg}, fastOptions(browser)...)
	require.NoError(t, err)

	waitState(t, p, joined)
	close(browser.detached)
	waitDone(t, p)

	assert.NoError(t, p.Err())
	assert.False(t, p.State().Running)
	_, killed, closed := browser.status()
	assert.True(t, killed)
	assert.False(t, closed)
}

func TestLaunchFailureNeverRuns(t *testing.T) {
	boom := errors.New("browser not found")
	cfg := testConfig(t, nil)
	p, err := Spawn(context.Background(), Spec{Local: &cfg},
		WithLauncher(func(context.Context, config.ParticipantConfig, logger.Logger) (Browser, error) {
			return nil, boom
		}))
	require.NoError(t, err)

	waitDone(t, p)
	assert.ErrorIs(t, p.Err(), boom)
	assert.Equal(t, uint64(0), p.Watch().Version())
	assert.False(t, p.State().Running)
}

func TestHandleGuards(t *testing.T) {
	release := make(chan struct{})
	page := newFakePage(classicFrontend)
	browser := newFakeBrowser(page)
	cfg := testConfig(t, nil)
	opts := append(fastOptions(browser), WithLauncher(func(ctx context.Context, _ config.ParticipantConfig, _ logger.Logger) (Browser, error) {
		<-release
		return browser, nil
	}))
	p, err := Spawn(context.Background(), Spec{Local: &cfg}, opts...)
	require.NoError(t, err)
	defer p.Stop()

	assert.ErrorIs(t, p.Join(), ErrNotRunning)
	assert.ErrorIs(t, p.ToggleAudio(), ErrNotRunning)
	close(release)

	waitState(t, p, joined)
	assert.NoError(t, p.Join())
	assert.NoError(t, p.ToggleVideo())
	waitState(t, p, func(s model.ParticipantState) bool { return !s.VideoActivated })
}

func TestCommandsRefreshState(t *testing.T) {
	page := newFakePage(classicFrontend)
	browser := newFakeBrowser(page)
	cfg := testConfig(t, nil)
	p, err := Spawn(context.Background(), Spec{Local: &cfg}, fastOptions(browser)...)
	require.NoError(t, err)
	defer p.Stop()
	waitState(t, p, joined)

	require.NoError(t, p.SetNoiseSuppression(model.NoiseSuppressionRNNoise))
	require.NoError(t, p.SetWebcamResolution(model.ResolutionP720))
	require.NoError(t, p.ToggleBackgroundBlur())
	require.NoError(t, p.ToggleScreenshare())

	s := waitState(t, p, func(s model.ParticipantState) bool { return s.ScreenshareActivated })
	assert.Equal(t, model.NoiseSuppressionRNNoise, s.NoiseSuppression)
	assert.Equal(t, model.ResolutionP720, s.WebcamResolution)
	assert.True(t, s.BackgroundBlur)

	require.NoError(t, p.ToggleBackgroundBlur())
	s = waitState(t, p, func(s model.ParticipantState) bool { return !s.BackgroundBlur })
	assert.True(t, s.Joined)

	require.NoError(t, p.Leave())
	waitState(t, p, func(s model.ParticipantState) bool { return s.Running && !s.Joined })
}

func TestCommandErrorContinuesAndRefreshes(t *testing.T) {
	page := newFakePage(classicFrontend)
	browser := newFakeBrowser(page)
	cfg := testConfig(t, nil)
	p, err := Spawn(context.Background(), Spec{Local: &cfg}, fastOptions(browser)...)
	require.NoError(t, err)
	defer p.Stop()
	waitState(t, p, joined)

	page.setControl(classicFrontend.screenshare, false, true)
	page.setControl(classicFrontend.video, false, false)

	// 点击失败后仍刷新状态
	require.NoError(t, p.ToggleScreenshare())
	s := waitState(t, p, func(s model.ParticipantState) bool { return !s.VideoActivated })
	assert.True(t, s.Running)
	assert.True(t, s.Joined)
	assert.False(t, s.ScreenshareActivated)

	require.NoError(t, p.ToggleAudio())
	s = waitState(t, p, func(s model.ParticipantState) bool { return s.Muted })
	assert.True(t, s.Running)
	assert.Equal(t, 1, page.count(classicFrontend.screenshare))
}

func TestApplySettingsOnJoin(t *testing.T) {
	page := newFakePage(classicFrontend)
	browser := newFakeBrowser(page)
	cfg := testConfig(t, func(s *config.Settings) {
		s.AudioEnabled = false
		s.VideoEnabled = false
		s.ScreenshareEnabled = true
		s.Transport = model.TransportWebRTC
		s.NoiseSuppression = model.NoiseSuppressionKrispHigh
		s.Blur = true
	})
	p, err := Spawn(context.Background(), Spec{Local: &cfg}, fastOptions(browser)...)
	require.NoError(t, err)
	defer p.Stop()

	s := waitState(t, p, joined)
	assert.True(t, s.Muted)
	assert.False(t, s.VideoActivated)
	assert.True(t, s.ScreenshareActivated)
	assert.True(t, s.BackgroundBlur)
	assert.Equal(t, model.TransportWebRTC, s.TransportMode)
	assert.Equal(t, model.NoiseSuppressionKrispHigh, s.NoiseSuppression)
}

func TestLiteFrontend(t *testing.T) {
	page := newFakePage(liteFrontend)
	browser := newFakeBrowser(page)
	pool := auth.NewPool()
	cfg := testConfig(t, func(s *config.Settings) { s.Frontend = model.FrontendLite })
	opts := append(fastOptions(browser), WithPool(pool))
	p, err := Spawn(context.Background(), Spec{Local: &cfg}, opts...)
	require.NoError(t, err)
	defer p.Stop()

	waitState(t, p, joined)
	snap := page.snapshot()
	assert.Empty(t, snap.cookies)
	assert.Empty(t, snap.filled)

	require.NoError(t, p.SetNoiseSuppression(model.NoiseSuppressionRNNoise))
	require.NoError(t, p.ToggleAudio())
	s := waitState(t, p, func(s model.ParticipantState) bool { return s.Muted })
	assert.Equal(t, model.NoiseSuppressionNone, s.NoiseSuppression)
	assert.Equal(t, `"none"`, page.setting(jsGetNoiseSuppression))
}

func TestStopCancelsActor(t *testing.T) {
	page := newFakePage(classicFrontend)
	browser := newFakeBrowser(page)
	cfg := testConfig(t, nil)
	p, err := Spawn(context.Background(), Spec{Local: &cfg}, fastOptions(browser)...)
	require.NoError(t, err)
	waitState(t, p, joined)

	p.Stop()
	assert.ErrorIs(t, p.Err(), context.Canceled)
	assert.False(t, p.State().Running)
	assert.ErrorIs(t, p.Send(model.Message(model.CmdLeave)), ErrNotRunning)
}

func TestSpawnRejectsBadSpec(t *testing.T) {
	cfg := testConfig(t, nil)
	_, err := Spawn(context.Background(), Spec{})
	assert.Error(t, err)
	_, err = Spawn(context.Background(), Spec{Local: &cfg, Remote: &Query{Username: "x"}})
	assert.Error(t, err)
}
