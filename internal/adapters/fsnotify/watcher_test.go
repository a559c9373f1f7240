package fsnotify

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/corey/slnfix/internal/ports"
	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitForCallback waits up to timeout for the callback channel to receive a value.
func waitForCallback(ch <-chan string, timeout time.Duration) (string, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		return "", false
	}
}

// startedWatcher starts a watcher on a fresh temp dir and stops it on cleanup.
func startedWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()
	dir := t.TempDir()
	w := NewWatcher(dir, Options{})
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Stop() })
	// Give watcher time to start
	time.Sleep(50 * time.Millisecond)
	return w, dir
}

func TestWatcher_SolutionFileChange(t *testing.T) {
	w, dir := startedWatcher(t)

	solutions := make(chan string, 10)
	projects := make(chan string, 10)
	w.Subscribe(ports.CategorySolution, func(path string) { solutions <- path })
	w.Subscribe(ports.CategoryProject, func(path string) { projects <- path })

	sln := filepath.Join(dir, "Game.sln")
	require.NoError(t, os.WriteFile(sln, []byte("Microsoft Visual Studio Solution File"), 0644))

	path, ok := waitForCallback(solutions, 2*time.Second)
	assert.True(t, ok, "expected solution callback")
	assert.Equal(t, sln, path)

	_, ok = waitForCallback(projects, 200*time.Millisecond)
	assert.False(t, ok, "solution file must not reach project subscribers")
}

func TestWatcher_ProjectFileChange(t *testing.T) {
	dir := t.TempDir()
	csproj := filepath.Join(dir, "Assembly-CSharp.csproj")
	require.NoError(t, os.WriteFile(csproj, []byte("<Project/>"), 0644))

	w := NewWatcher(dir, Options{})
	require.NoError(t, w.Start())
	defer w.Stop()

	projects := make(chan string, 10)
	w.Subscribe(ports.CategoryProject, func(path string) { projects <- path })

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(csproj, []byte("<Project></Project>"), 0644))

	path, ok := waitForCallback(projects, 2*time.Second)
	assert.True(t, ok, "expected project callback")
	assert.Equal(t, csproj, path)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	w, dir := startedWatcher(t)

	changed := make(chan string, 10)
	w.Subscribe(ports.CategorySolution, func(path string) { changed <- path })
	w.Subscribe(ports.CategoryProject, func(path string) { changed <- path })

	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "Game.sln.meta"), []byte("x"), 0644)

	_, ok := waitForCallback(changed, 300*time.Millisecond)
	assert.False(t, ok, "unrelated files must not trigger callbacks")
}

func TestWatcher_NonRecursive(t *testing.T) {
	w, dir := startedWatcher(t)

	changed := make(chan string, 10)
	w.Subscribe(ports.CategoryProject, func(path string) { changed <- path })

	sub := filepath.Join(dir, "Library")
	require.NoError(t, os.MkdirAll(sub, 0755))
	time.Sleep(50 * time.Millisecond)
	os.WriteFile(filepath.Join(sub, "Nested.csproj"), []byte("x"), 0644)

	_, ok := waitForCallback(changed, 300*time.Millisecond)
	assert.False(t, ok, "files in subdirectories are not watched")
}

func TestWatcher_PauseSuppressesDelivery(t *testing.T) {
	w, dir := startedWatcher(t)

	changed := make(chan string, 10)
	w.Subscribe(ports.CategorySolution, func(path string) { changed <- path })

	sln := filepath.Join(dir, "Game.sln")

	w.Pause()
	assert.True(t, w.Paused())
	assert.True(t, w.Watching(), "pause keeps the handle open")

	require.NoError(t, os.WriteFile(sln, []byte("paused write"), 0644))
	_, ok := waitForCallback(changed, 300*time.Millisecond)
	assert.False(t, ok, "no delivery while paused")

	require.NoError(t, w.Resume())
	assert.Eventually(t, func() bool { return !w.Paused() }, time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(sln, []byte("resumed write"), 0644))
	path, ok := waitForCallback(changed, 2*time.Second)
	assert.True(t, ok, "delivery resumes")
	assert.Equal(t, sln, path)
}

func TestWatcher_WritesBracketedByPauseAreNeverDelivered(t *testing.T) {
	w, dir := startedWatcher(t)

	changed := make(chan string, 10)
	w.Subscribe(ports.CategorySolution, func(path string) { changed <- path })
	w.Subscribe(ports.CategoryProject, func(path string) { changed <- path })

	sln := filepath.Join(dir, "Game.sln")
	csproj := filepath.Join(dir, "Game.csproj")
	stamp := time.Now().Add(-time.Hour)

	// Resume right after the writes, the way the fixer does: the OS has
	// already queued the events but the loop has not read them yet.
	for i := 0; i < 5; i++ {
		w.Pause()
		require.NoError(t, os.WriteFile(sln, []byte("rewrite"), 0644))
		require.NoError(t, os.Chtimes(sln, stamp, stamp))
		require.NoError(t, os.WriteFile(csproj, []byte("<Project/>"), 0644))
		require.NoError(t, w.Resume())
	}

	path, ok := waitForCallback(changed, 400*time.Millisecond)
	assert.False(t, ok, "own write delivered: %s", path)
	assert.False(t, w.Paused())

	require.NoError(t, os.WriteFile(csproj, []byte("<Project></Project>"), 0644))
	path, ok = waitForCallback(changed, 2*time.Second)
	assert.True(t, ok, "external writes are delivered after resume")
	assert.Equal(t, csproj, path)
}

func TestWatcher_PauseCancelsPendingResume(t *testing.T) {
	w, _ := startedWatcher(t)

	w.Pause()
	require.NoError(t, w.Resume())
	w.Pause()

	time.Sleep(5 * DefaultResumeQuiet)
	assert.True(t, w.Paused(), "a later Pause wins over an earlier Resume")

	require.NoError(t, w.Resume())
	assert.Eventually(t, func() bool { return !w.Paused() }, time.Second, 5*time.Millisecond)
}

func TestWatcher_ResumeWithoutHandleRestarts(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir, Options{})
	defer w.Stop()

	changed := make(chan string, 10)
	w.Subscribe(ports.CategoryProject, func(path string) { changed <- path })

	// Pause on a stopped watcher is a no-op; Resume falls back to Start.
	w.Pause()
	assert.False(t, w.Paused())
	require.NoError(t, w.Resume())
	assert.True(t, w.Watching())

	time.Sleep(50 * time.Millisecond)
	csproj := filepath.Join(dir, "Game.csproj")
	require.NoError(t, os.WriteFile(csproj, []byte("x"), 0644))

	path, ok := waitForCallback(changed, 2*time.Second)
	assert.True(t, ok, "restarted watch delivers events")
	assert.Equal(t, csproj, path)
}

func TestWatcher_StartIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir, Options{})

	require.NoError(t, w.Start())
	require.NoError(t, w.Start())
	assert.True(t, w.Watching())

	// One Stop releases everything: no stacked watches.
	require.NoError(t, w.Stop())
	assert.False(t, w.Watching())
}

func TestWatcher_StopCleanup(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir, Options{})

	// Stop before Start is safe.
	assert.NoError(t, w.Stop())

	callCount := 0
	var mu sync.Mutex
	w.Subscribe(ports.CategorySolution, func(path string) {
		mu.Lock()
		callCount++
		mu.Unlock()
	})
	require.NoError(t, w.Start())
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, w.Stop())

	os.WriteFile(filepath.Join(dir, "after_stop.sln"), []byte("# nope"), 0644)
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 0, callCount, "callbacks fired after Stop()")
	mu.Unlock()

	// Double-stop should be safe
	assert.NoError(t, w.Stop())
}

func TestWatcher_StartFailsForMissingDirectory(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing"), Options{})
	err := w.Start()
	assert.Error(t, err)
	assert.False(t, w.Watching())
}

func TestDispatch_DropsDeletes(t *testing.T) {
	w := NewWatcher(t.TempDir(), Options{})

	var got []string
	w.Subscribe(ports.CategorySolution, func(path string) { got = append(got, path) })

	w.dispatch(ports.ChangeEvent{Kind: ports.ChangeDeleted, Path: "/p/Game.sln"})
	assert.Empty(t, got)

	w.dispatch(ports.ChangeEvent{Kind: ports.ChangeChanged, Path: "/p/Game.sln"})
	assert.Equal(t, []string{"/p/Game.sln"}, got)
}

func TestDispatch_RenamedAwayIsDropped(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir, Options{})

	var got []string
	w.Subscribe(ports.CategoryProject, func(path string) { got = append(got, path) })

	w.dispatch(ports.ChangeEvent{Kind: ports.ChangeRenamed, Path: filepath.Join(dir, "Gone.csproj")})
	assert.Empty(t, got, "old name of a rename no longer exists")

	present := filepath.Join(dir, "Here.csproj")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0644))
	w.dispatch(ports.ChangeEvent{Kind: ports.ChangeRenamed, Path: present})
	assert.Equal(t, []string{present}, got)
}

func TestDispatch_OrderAndUnsubscribe(t *testing.T) {
	w := NewWatcher(t.TempDir(), Options{})

	var order []string
	w.Subscribe(ports.CategoryProject, func(string) { order = append(order, "first") })
	second := w.Subscribe(ports.CategoryProject, func(string) { order = append(order, "second") })
	w.Subscribe(ports.CategoryProject, func(string) { order = append(order, "third") })

	w.dispatch(ports.ChangeEvent{Kind: ports.ChangeCreated, Path: "/p/A.csproj"})
	assert.Equal(t, []string{"first", "second", "third"}, order)

	order = nil
	w.Unsubscribe(second)
	w.Unsubscribe(9999) // unknown IDs are ignored
	w.dispatch(ports.ChangeEvent{Kind: ports.ChangeChanged, Path: "/p/A.csproj"})
	assert.Equal(t, []string{"first", "third"}, order)
}

func TestDispatch_CustomExtensionsMatchIndependently(t *testing.T) {
	// Both categories fire when one path ends with both extensions.
	w := NewWatcher(t.TempDir(), Options{SolutionExt: ".proj", ProjectExt: "proj"})

	var cats []ports.Category
	w.Subscribe(ports.CategorySolution, func(string) { cats = append(cats, ports.CategorySolution) })
	w.Subscribe(ports.CategoryProject, func(string) { cats = append(cats, ports.CategoryProject) })

	w.dispatch(ports.ChangeEvent{Kind: ports.ChangeChanged, Path: "/p/Build.proj"})
	assert.Equal(t, []ports.Category{ports.CategorySolution, ports.CategoryProject}, cats)
}

func TestDispatch_HandlerMayPause(t *testing.T) {
	// Handlers run outside the lock, so calling back into the watcher is safe.
	dir := t.TempDir()
	w := NewWatcher(dir, Options{})
	require.NoError(t, w.Start())
	defer w.Stop()

	done := make(chan struct{})
	w.Subscribe(ports.CategorySolution, func(string) {
		w.Pause()
		w.Resume()
		close(done)
	})

	w.dispatch(ports.ChangeEvent{Kind: ports.ChangeChanged, Path: "/p/Game.sln"})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler deadlocked")
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		op   fsnotify.Op
		want ports.ChangeKind
	}{
		{fsnotify.Create, ports.ChangeCreated},
		{fsnotify.Write, ports.ChangeChanged},
		{fsnotify.Chmod, ports.ChangeChanged},
		{fsnotify.Rename, ports.ChangeRenamed},
		{fsnotify.Remove, ports.ChangeDeleted},
		{fsnotify.Remove | fsnotify.Write, ports.ChangeDeleted},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, kindOf(tc.op), tc.op.String())
	}
}
