package process

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sbsrf-update/internal/errors"
)

type call struct {
	bin  string
	args []string
}

type stubRunner struct {
	mu      sync.Mutex
	output  string
	err     error
	runs    []call
	spawned []call
}

func (s *stubRunner) Run(_ context.Context, bin string, args ...string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, call{bin, args})
	return []byte(s.output), s.err
}

func (s *stubRunner) Spawn(bin string, args ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spawned = append(s.spawned, call{bin, args})
	return s.err
}

const tasklistRunning = "\r\nImage Name                     PID Session Name        Session#    Mem Usage\r\n" +
	"========================= ======== ================ =========== ============\r\n" +
	"WeaselServer.exe              7528 Console                    1     10,068 K\r\n"

const tasklistEmpty = "INFO: No tasks are running which match the specified criteria.\r\n"

func TestParseTasklistPID(t *testing.T) {
	assert.Equal(t, 7528, ParseTasklistPID(tasklistRunning, "WeaselServer.exe"))
	assert.Equal(t, 7528, ParseTasklistPID(tasklistRunning, "weaselserver.exe"))
	assert.Equal(t, -1, ParseTasklistPID(tasklistEmpty, "WeaselServer.exe"))
	assert.Equal(t, -1, ParseTasklistPID("", "WeaselServer.exe"))
}

func TestTasklistGuard(t *testing.T) {
	runner := &stubRunner{output: tasklistRunning}
	g := NewTasklistGuard("WeaselServer.exe", `C:\Program Files\Rime\weasel-0.15\WeaselServer.exe`, runner)

	running, err := g.IsRunning(context.Background())
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, []string{"/FI", "IMAGENAME eq WeaselServer.exe"}, runner.runs[0].args)

	require.NoError(t, g.Stop(context.Background()))
	require.NoError(t, g.Start(context.Background()))
	require.Len(t, runner.spawned, 2)
	assert.Equal(t, []string{"/q"}, runner.spawned[0].args)
	assert.Empty(t, runner.spawned[1].args)

	runner.output = tasklistEmpty
	running, err = g.IsRunning(context.Background())
	require.NoError(t, err)
	assert.False(t, running)
}

func TestTasklistGuardWithoutExe(t *testing.T) {
	g := NewTasklistGuard("WeaselServer.exe", "", &stubRunner{})
	assert.Error(t, g.Stop(context.Background()))
	assert.Error(t, g.Start(context.Background()))
}

// fakeGuard flips state a few polls after Stop/Start.
type fakeGuard struct {
	mu       sync.Mutex
	running  bool
	pending  *bool
	delay    int
	events   []string
	stopErr  error
	neverDie bool
}

func (f *fakeGuard) IsRunning(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending != nil {
		if f.delay == 0 {
			f.running = *f.pending
			f.pending = nil
		} else {
			f.delay--
		}
	}
	return f.running, nil
}

func (f *fakeGuard) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "stop")
	if f.stopErr != nil {
		return f.stopErr
	}
	if !f.neverDie {
		v := false
		f.pending, f.delay = &v, 2
	}
	return nil
}

func (f *fakeGuard) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "start")
	v := true
	f.pending, f.delay = &v, 2
	return nil
}

var fast = WaitOptions{Poll: time.Millisecond, Timeout: time.Second}

func TestQuiesceAndResume(t *testing.T) {
	g := &fakeGuard{running: true}

	stopped, err := Quiesce(context.Background(), g, fast)
	require.NoError(t, err)
	assert.True(t, stopped)
	running, _ := g.IsRunning(context.Background())
	assert.False(t, running)

	require.NoError(t, Resume(context.Background(), g, fast))
	running, _ = g.IsRunning(context.Background())
	assert.True(t, running)
	assert.Equal(t, []string{"stop", "start"}, g.events)
}

func TestQuiesceNotRunning(t *testing.T) {
	g := &fakeGuard{}
	stopped, err := Quiesce(context.Background(), g, fast)
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.Empty(t, g.events)
}

func TestQuiesceNilGuard(t *testing.T) {
	stopped, err := Quiesce(context.Background(), nil, fast)
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.NoError(t, Resume(context.Background(), nil, fast))
}

func TestQuiesceTimeout(t *testing.T) {
	g := &fakeGuard{running: true, neverDie: true}
	_, err := Quiesce(context.Background(), g, WaitOptions{Poll: time.Millisecond, Timeout: 20 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeProcessControlFailure))
	assert.Contains(t, err.Error(), "stopped")
}

func TestQuiesceStopFailure(t *testing.T) {
	g := &fakeGuard{running: true, stopErr: errors.New("access denied")}
	_, err := Quiesce(context.Background(), g, fast)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeProcessControlFailure))
}

func TestParsePSCommand(t *testing.T) {
	out := strings.Join([]string{
		"/sbin/launchd",
		"/Library/Input Methods/Squirrel.app/Contents/MacOS/Squirrel",
		"/usr/bin/fcitx5 -d --replace",
		"grep Squirrel",
	}, "\n")

	assert.Equal(t, "/Library/Input Methods/Squirrel.app/Contents/MacOS/Squirrel", ParsePSCommand(out, "Squirrel"))
	assert.Equal(t, "/usr/bin/fcitx5", ParsePSCommand(out, "fcitx5"))
	assert.Equal(t, "", ParsePSCommand(out, "ibus-daemon"))
	assert.Equal(t, "fcitx5", ParsePSCommand("fcitx5 -d\n", "fcitx5"))
}

func TestFinder(t *testing.T) {
	runner := &stubRunner{output: "/usr/bin/fcitx5 -d\n"}
	f := &Finder{Runner: runner, GOOS: "linux"}

	path, found, err := f.Find(context.Background(), "fcitx5")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "/usr/bin/fcitx5", path)
	assert.Equal(t, "ps", runner.runs[0].bin)

	runner.output = tasklistRunning
	f.GOOS = "windows"
	path, found, err = f.Find(context.Background(), "WeaselServer")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "WeaselServer.exe", path)
}
