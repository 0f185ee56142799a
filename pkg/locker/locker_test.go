package locker

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MatthiasKunnen/deadbolt/pkg/auth"
	"github.com/MatthiasKunnen/deadbolt/pkg/config"
)

type fakeSubmitter struct {
	mu        sync.Mutex
	passwords []string
	replies   []chan error
	reject    bool
}

func (f *fakeSubmitter) Submit(password []byte) (<-chan error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return nil, false
	}
	f.passwords = append(f.passwords, string(password))
	ch := make(chan error, 1)
	f.replies = append(f.replies, ch)
	return ch, true
}

func (f *fakeSubmitter) submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.passwords)
}

type timerCall struct {
	tag      int32
	delay    time.Duration
	interval time.Duration
}

// fakeTimers replaces the loop timers so key handling can be tested
// without file descriptors.
type fakeTimers struct {
	sets     []timerCall
	unsets   []int32
	notifies atomic.Int32
	setErr   error
}

func (f *fakeTimers) setTimer(tag int32, delay, interval time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.sets = append(f.sets, timerCall{tag: tag, delay: delay, interval: interval})
	return nil
}

func (f *fakeTimers) unsetTimer(tag int32) {
	f.unsets = append(f.unsets, tag)
}

func (f *fakeTimers) notify() {
	f.notifies.Add(1)
}

type fakeHinter struct {
	calls []bool
	err   error
}

func (f *fakeHinter) SetLocked(locked bool) error {
	f.calls = append(f.calls, locked)
	return f.err
}

func newTestLocker(t *testing.T, d *fakeDisplay, mutate func(*config.Config)) (*Locker, *fakeSubmitter) {
	t.Helper()
	cfg := config.Default()
	cfg.Font.Size = 8
	if mutate != nil {
		mutate(&cfg)
	}
	sub := &fakeSubmitter{}
	l, err := New(&cfg, d, sub, nil, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(l.loop.close)
	return l, sub
}

// presentOutput drives one output through its discovery events up to a
// configured lock surface.
func presentOutput(l *Locker, out *fakeOutput, width, height uint32) {
	l.lockRequested = true
	l.HandleOutputAdded(out)
	l.HandleOutputGeometry(out, 254, 127)
	l.HandleOutputScale(out, 1)
	l.HandleOutputName(out, "eDP-1")
	l.HandleOutputDone(out)
	l.HandleConfigure(out, 1, width, height)
}

func TestRunLocksThenUnlocksOnRequest(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)
	out := &fakeOutput{id: 3}
	d.queue = []func(){
		func() { l.HandleOutputAdded(out) },
		func() { l.HandleOutputGeometry(out, 254, 127) },
		func() { l.HandleOutputScale(out, 1) },
		func() { l.HandleOutputName(out, "eDP-1") },
		func() { l.HandleOutputDone(out) },
		func() { l.HandleLocked() },
		func() { l.HandleConfigure(out, 1, 64, 64) },
		func() { l.RequestUnlock() },
	}

	require.NoError(t, l.Run())

	lock := d.callIndex("lock")
	dispatch := d.callIndex("dispatch")
	require.NotEqual(t, -1, lock)
	require.NotEqual(t, -1, dispatch)
	assert.Less(t, lock, dispatch, "outputs must be dispatched after the lock request")

	unlock := d.callIndex("unlock_and_destroy")
	sync := d.callIndex("sync")
	require.NotEqual(t, -1, unlock)
	require.NotEqual(t, -1, sync)
	assert.Less(t, unlock, sync)
	assert.Equal(t, -1, d.callIndex("destroy_lock"))

	require.Len(t, d.lockSurfaces, 1)
	assert.True(t, d.lockSurfaces[0].destroyed)
	assert.True(t, out.released)
	assert.GreaterOrEqual(t, d.surfaces[1].commits, 1, "overlay must have been painted")
}

func TestRunDeniedLock(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)
	d.queue = []func(){
		func() { l.HandleLockFinished() },
	}

	err := l.Run()

	require.ErrorContains(t, err, "denied")
	assert.NotEqual(t, -1, d.callIndex("destroy_lock"))
	assert.Equal(t, -1, d.callIndex("unlock_and_destroy"))
}

func TestRunFinishedAfterLockedUnlocksCleanly(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)
	d.queue = []func(){
		func() { l.HandleLocked() },
		func() { l.HandleLockFinished() },
	}

	require.NoError(t, l.Run())

	assert.NotEqual(t, -1, d.callIndex("unlock_and_destroy"))
}

func TestRunConnError(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)
	d.queue = []func(){
		func() { l.HandleConnError(errors.New("broken pipe")) },
	}

	err := l.Run()

	require.ErrorContains(t, err, "broken pipe")
}

func TestRunLockRequestFails(t *testing.T) {
	d := newFakeDisplay(t, true)
	d.lockErr = errors.New("no lock manager")
	l, _ := newTestLocker(t, d, nil)

	err := l.Run()

	require.ErrorContains(t, err, "no lock manager")
	assert.Equal(t, -1, d.callIndex("dispatch"))
}

func TestSubmitSerialization(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, sub := newTestLocker(t, d, nil)
	ft := &fakeTimers{}
	l.timers = ft
	presentOutput(l, &fakeOutput{id: 1}, 64, 64)

	l.HandleKey(30, true) // a
	l.HandleKey(48, true) // b
	l.HandleKey(28, true) // Enter

	require.Equal(t, 1, sub.submissions())
	assert.Equal(t, "ab", sub.passwords[0])
	assert.True(t, l.authPending.Load())
	assert.Empty(t, l.password, "password must be cleared on submit")

	// Another Enter while the check is outstanding is dropped.
	l.HandleKey(28, true)
	assert.Equal(t, 1, sub.submissions())

	sub.replies[0] <- errors.New("bad password")
	require.Eventually(t, func() bool {
		return !l.authPending.Load()
	}, time.Second, time.Millisecond)
	assert.Equal(t, auth.StateFail, l.authState.Load())
	assert.GreaterOrEqual(t, ft.notifies.Load(), int32(1))

	// With the verdict in, the next submission goes through.
	l.HandleKey(30, true)
	l.HandleKey(28, true)
	require.Equal(t, 2, sub.submissions())
	assert.Equal(t, "a", sub.passwords[1])
}

func TestSubmitSuccessStopsTheLoop(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, sub := newTestLocker(t, d, nil)
	ft := &fakeTimers{}
	l.timers = ft
	l.running = true

	l.HandleKey(30, true)
	l.HandleKey(28, true)
	require.Equal(t, 1, sub.submissions())
	sub.replies[0] <- nil
	require.Eventually(t, func() bool {
		return l.authState.Load() == auth.StateSuccess
	}, time.Second, time.Millisecond)

	l.handleNotify()

	assert.False(t, l.running)
}

func TestSubmitterRejectionMarksFailure(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, sub := newTestLocker(t, d, nil)
	sub.reject = true

	l.HandleKey(30, true)
	l.HandleKey(28, true)

	assert.Equal(t, auth.StateFail, l.authState.Load())
	assert.False(t, l.authPending.Load())
	assert.True(t, l.stateChanged)
}

func TestExternalUnlockWinsOverAuthState(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)
	l.running = true
	l.authState.Store(auth.StateFail)
	l.externalUnlock.Store(true)

	l.handleNotify()

	assert.False(t, l.running)
	assert.False(t, l.stateChanged)
}

func TestFailureVerdictRequestsRepaint(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)
	l.running = true
	l.authState.Store(auth.StateFail)

	l.handleNotify()

	assert.True(t, l.running)
	assert.True(t, l.stateChanged)
}

func TestPasswordZeroedOnSubmit(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, sub := newTestLocker(t, d, nil)
	l.appendRune('a')
	l.appendRune('b')
	l.appendRune('c')
	ref := l.password

	l.submitPassword()

	assert.Equal(t, "abc", sub.passwords[0])
	for i, b := range ref[:3] {
		assert.Zerof(t, b, "byte %d must be wiped", i)
	}
	assert.Empty(t, l.password)
}

func TestEraseZeroesRemovedBytes(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)
	l.appendRune('a')
	l.appendRune('b')
	ref := l.password

	l.eraseRune()

	assert.Equal(t, "a", string(l.password))
	assert.Zero(t, ref[1])

	l.eraseRune()
	assert.Empty(t, l.password)
	l.eraseRune()
	assert.Empty(t, l.password)
}

func TestEraseHandlesMultibyteRunes(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)
	l.appendRune('é')
	l.appendRune('水')

	assert.Equal(t, 2, utf8.RuneCount(l.password))
	l.eraseRune()
	assert.Equal(t, "é", string(l.password))
}

func TestAppendGrowthZeroesOldArray(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)
	for range 64 {
		l.appendRune('x')
	}
	old := l.password

	l.appendRune('y')

	assert.Equal(t, strings.Repeat("x", 64)+"y", string(l.password))
	for i, b := range old {
		assert.Zerof(t, b, "old byte %d must be wiped after growth", i)
	}
}

func TestHandleKeyRepeatLifecycle(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)
	ft := &fakeTimers{}
	l.timers = ft
	l.HandleRepeatInfo(25, 600)

	l.HandleKey(30, true)
	require.Len(t, ft.sets, 1)
	assert.Equal(t, int32(tagKeyRepeat), ft.sets[0].tag)
	assert.Equal(t, 600*time.Millisecond, ft.sets[0].delay)
	assert.Equal(t, 40*time.Millisecond, ft.sets[0].interval)
	assert.True(t, l.repeat.armed)
	assert.Equal(t, uint32(30), l.repeat.code)

	// A new press moves the repeat to the new key.
	l.HandleKey(48, true)
	assert.Equal(t, []int32{tagKeyRepeat}, ft.unsets)
	require.Len(t, ft.sets, 2)
	assert.Equal(t, uint32(48), l.repeat.code)

	// Releasing disarms without re-arming.
	l.HandleKey(48, false)
	assert.Len(t, ft.unsets, 2)
	assert.Len(t, ft.sets, 2)
	assert.False(t, l.repeat.armed)
}

func TestHandleKeyNoRepeatWhenRateZero(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)
	ft := &fakeTimers{}
	l.timers = ft

	l.HandleKey(30, true)

	assert.Empty(t, ft.sets)
	assert.False(t, l.repeat.armed)
}

func TestRepeatKeyReplaysMissedTicks(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)
	l.repeat = repeatState{rate: 25, delay: 600, code: 30, armed: true}

	l.repeatKey(3)

	assert.Equal(t, "aaa", string(l.password))

	l.repeat.armed = false
	l.repeatKey(2)
	assert.Equal(t, "aaa", string(l.password), "disarmed repeat must not type")
}

func TestIgnoredKeyStillRepaints(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)

	l.HandleKey(1, true) // Escape

	assert.Empty(t, l.password)
	assert.True(t, l.stateChanged)
}

func TestModifiersShapeTypedRunes(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)

	l.HandleModifiers(0, 0, 2, 0) // caps lock
	l.HandleKey(30, true)
	assert.Equal(t, "A", string(l.password))

	l.HandleModifiers(1, 0, 2, 0) // shift under caps lock
	l.HandleKey(30, true)
	assert.Equal(t, "Aa", string(l.password))
}

func TestPointerEnterHidesCursor(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)

	l.HandlePointerEnter(9)

	assert.Equal(t, []uint32{9}, d.hidden)
}

func TestPointerEnterKeepsCursorWhenConfigured(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, func(cfg *config.Config) {
		cfg.General.HideCursor = false
	})

	l.HandlePointerEnter(9)

	assert.Empty(t, d.hidden)
}

func TestHandleLockedSetsHint(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)
	hint := &fakeHinter{}
	l.hint = hint

	l.HandleLocked()

	assert.True(t, l.locked)
	assert.Equal(t, []bool{true}, hint.calls)
}

func TestHandleOutputEventsRouteToTheirSurface(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)
	first := &fakeOutput{id: 1}
	second := &fakeOutput{id: 2}
	l.HandleOutputAdded(first)
	l.HandleOutputAdded(second)

	l.HandleOutputScale(second, 2)
	l.HandleOutputName(second, "DP-2")
	l.HandleOutputGeometry(second, 600, 340)

	assert.Equal(t, int32(1), l.surfaces[0].scale)
	assert.Equal(t, int32(2), l.surfaces[1].scale)
	assert.Equal(t, "DP-2", l.surfaces[1].name)
	assert.Equal(t, int32(600), l.surfaces[1].physW)

	// Events for unknown outputs are ignored.
	l.HandleOutputScale(&fakeOutput{id: 9}, 3)
	l.HandleConfigure(&fakeOutput{id: 9}, 1, 10, 10)
}

func TestHandleOutputDoneWaitsForLockRequest(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)
	out := &fakeOutput{id: 1}
	l.HandleOutputAdded(out)

	l.HandleOutputDone(out)
	assert.Empty(t, d.lockSurfaces)

	l.lockRequested = true
	l.HandleOutputDone(out)
	assert.Len(t, d.lockSurfaces, 1)
}

func TestHandleOutputDoneSurvivesCreateFailure(t *testing.T) {
	d := newFakeDisplay(t, true)
	d.createErr = errors.New("surface exhausted")
	l, _ := newTestLocker(t, d, nil)
	out := &fakeOutput{id: 1}
	l.lockRequested = true
	l.HandleOutputAdded(out)

	l.HandleOutputDone(out)

	assert.False(t, l.surfaces[0].created)
}

func TestUnlockIdempotent(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)
	l.lockRequested = true
	l.locked = true

	l.unlock()
	l.unlock()

	count := 0
	for _, c := range d.calls {
		if c == "unlock_and_destroy" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestMaybeRenderRepaintsAllSurfaces(t *testing.T) {
	d := newFakeDisplay(t, true)
	l, _ := newTestLocker(t, d, nil)
	presentOutput(l, &fakeOutput{id: 1}, 64, 64)
	overlay := d.surfaces[1]
	before := overlay.commits

	l.running = true
	l.stateChanged = true
	l.maybeRender()

	assert.Greater(t, overlay.commits, before)
	assert.False(t, l.stateChanged)
}

func TestCycleReportsFlushError(t *testing.T) {
	d := newFakeDisplay(t, true)
	d.flushErr = errors.New("connection reset")
	l, _ := newTestLocker(t, d, nil)
	l.running = true

	err := l.cycle()

	require.ErrorContains(t, err, "connection reset")
}
