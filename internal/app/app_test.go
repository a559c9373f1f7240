package app

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/corey/slnfix/internal/config"
	"github.com/corey/slnfix/internal/domain/fixer"
	"github.com/corey/slnfix/internal/domain/status"
	"github.com/corey/slnfix/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	csharpGUID = `{FAE04EC0-301F-11D3-BF4B-00C04F79EFBC}`
	projGUID   = `{2B1D6E7A-4C3F-4E7B-9F0A-1C2D3E4F5A6B}`
)

func declaration(name, rel string) string {
	return `Project("` + csharpGUID + `") = "` + name + `", "` + rel + `", "` + projGUID + `"`
}

var oldStamp = time.Date(2022, 6, 1, 8, 0, 0, 0, time.UTC)

// newProject creates <tmp>/MyProj with the given files, all stamped oldStamp.
func newProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "MyProj")
	require.NoError(t, os.MkdirAll(root, 0755))
	for name, content := range files {
		p := filepath.Join(root, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		require.NoError(t, os.Chtimes(p, oldStamp, oldStamp))
	}
	return root
}

func newTestApp(t *testing.T, root string) *App {
	t.Helper()
	a, err := New(Config{
		ProjectRoot: root,
		SocketPath:  filepath.Join(t.TempDir(), "d.sock"),
		Logger:      logging.Discard(),
	})
	require.NoError(t, err)
	return a
}

func startedApp(t *testing.T, root string) *App {
	t.Helper()
	a := newTestApp(t, root)
	require.NoError(t, a.Start())
	t.Cleanup(func() { a.Stop() })
	require.NoError(t, a.Queue.Flush())
	return a
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestApp_StartupPass(t *testing.T) {
	root := newProject(t, map[string]string{
		"MyProj.sln": strings.Join([]string{
			declaration("Old", `Sub\Core.csproj`),
			"EndProject",
			declaration("MyProj", "MyProj.csproj"),
			"EndProject",
			"",
		}, "\r\n"),
		"Assembly-CSharp.csproj": "<PropertyGroup>" + fixer.DeprecatedOutputPath + "</PropertyGroup>",
		"Clean.csproj":           "<PropertyGroup/>",
	})
	a := startedApp(t, root)

	sln := filepath.Join(root, "MyProj.sln")
	assert.Equal(t, strings.Join([]string{
		declaration("Core", `Sub\Core.csproj`),
		"EndProject",
		declaration("MyProj", "MyProj.csproj"),
		"EndProject",
		"",
	}, "\r\n"), readFile(t, sln))

	info, err := os.Stat(sln)
	require.NoError(t, err)
	assert.True(t, oldStamp.Equal(info.ModTime()), "solution mtime must be preserved")

	assert.Equal(t, "<PropertyGroup>"+fixer.CanonicalOutputPath+"</PropertyGroup>",
		readFile(t, filepath.Join(root, "Assembly-CSharp.csproj")))

	info, err = os.Stat(filepath.Join(root, "Clean.csproj"))
	require.NoError(t, err)
	assert.True(t, oldStamp.Equal(info.ModTime()), "conforming files are never written")

	hist, err := a.History(10)
	require.NoError(t, err)
	assert.Equal(t, 2, hist.Count)

	var sd status.StatusData
	require.NoError(t, json.Unmarshal([]byte(readFile(t, a.Paths.Status)), &sd))
	assert.Equal(t, 2, sd.TotalFixed)
	assert.True(t, sd.Watching)
}

func TestApp_EventTriggeredProjectFix(t *testing.T) {
	root := newProject(t, map[string]string{"MyProj.sln": declaration("MyProj", "MyProj.csproj")})
	startedApp(t, root)

	csproj := filepath.Join(root, "Game.csproj")
	require.NoError(t, os.WriteFile(csproj, []byte(fixer.DeprecatedOutputPath), 0644))

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(csproj)
		return err == nil && string(data) == fixer.CanonicalOutputPath
	}, 3*time.Second, 20*time.Millisecond)
}

func TestApp_EventTriggeredSolutionFix(t *testing.T) {
	root := newProject(t, map[string]string{"MyProj.sln": declaration("MyProj", "MyProj.csproj")})
	a := startedApp(t, root)

	sln := filepath.Join(root, "MyProj.sln")
	require.NoError(t, os.WriteFile(sln, []byte(declaration("Wrong", "Tools.csproj")), 0644))
	require.NoError(t, os.Chtimes(sln, oldStamp, oldStamp))

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(sln)
		return err == nil && string(data) == declaration("Tools", "Tools.csproj")
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, a.Queue.Flush())
	info, err := os.Stat(sln)
	require.NoError(t, err)
	assert.True(t, oldStamp.Equal(info.ModTime()))
}

func TestApp_NoFixLoop(t *testing.T) {
	root := newProject(t, map[string]string{
		"MyProj.sln":  declaration("Old", "Core.csproj"),
		"Core.csproj": fixer.DeprecatedOutputPath,
	})
	a := startedApp(t, root)
	ran := a.Queue.Stats().Ran
	assert.Equal(t, uint64(2), ran, "startup pass plus the flush")

	// The fixer's own writes must never come back as queued work.
	time.Sleep(400 * time.Millisecond)
	require.NoError(t, a.Queue.Flush())

	stats := a.Queue.Stats()
	assert.Equal(t, ran+1, stats.Ran, "own writes triggered extra passes")
	assert.Equal(t, uint64(0), stats.Coalesced)
	assert.Equal(t, uint64(0), stats.Failed)

	hist, err := a.History(10)
	require.NoError(t, err)
	assert.Equal(t, 2, hist.Count, "each file is rewritten exactly once")
}

func TestApp_FixNow(t *testing.T) {
	root := newProject(t, map[string]string{"MyProj.sln": declaration("MyProj", "MyProj.csproj")})
	a := startedApp(t, root)

	// With the watch stopped only fix-now can pick the file up.
	a.BeforeReload()
	assert.False(t, a.Watcher.Watching())
	csproj := filepath.Join(root, "Late.csproj")
	require.NoError(t, os.WriteFile(csproj, []byte(fixer.DeprecatedOutputPath), 0644))

	res, err := a.FixNow()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fixed)
	require.NotNil(t, res.Solution)
	assert.False(t, res.Solution.Written)
	require.Len(t, res.Projects, 1)
	assert.Equal(t, csproj, res.Projects[0].Path)
	assert.Equal(t, fixer.CanonicalOutputPath, readFile(t, csproj))

	// Second run finds nothing.
	res, err = a.FixNow()
	require.NoError(t, err)
	assert.Equal(t, 0, res.Fixed)
}

func TestApp_MissingSolutionStillFixesProjects(t *testing.T) {
	root := newProject(t, map[string]string{"Only.csproj": fixer.DeprecatedOutputPath})
	a := startedApp(t, root)

	assert.Equal(t, fixer.CanonicalOutputPath, readFile(t, filepath.Join(root, "Only.csproj")))

	st := a.Status()
	assert.False(t, st.SolutionFound)
	assert.Equal(t, filepath.Join(root, "MyProj.sln"), st.Solution)
	assert.True(t, st.Watching)
	assert.Equal(t, 1, st.TotalFixed)
	assert.NotEmpty(t, st.Uptime)
	assert.False(t, st.LastPass.IsZero())
}

func TestApp_Reload(t *testing.T) {
	root := newProject(t, map[string]string{"MyProj.sln": declaration("MyProj", "MyProj.csproj")})
	a := startedApp(t, root)

	paths := NewPaths(root)
	require.NoError(t, os.WriteFile(paths.Config, []byte(`
rules:
  - deprecated: <LangVersion>6</LangVersion>
    canonical: <LangVersion>latest</LangVersion>
`), 0644))

	res, err := a.ReloadConfig()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rules)
	assert.True(t, res.Watching)

	csproj := filepath.Join(root, "Lang.csproj")
	require.NoError(t, os.WriteFile(csproj, []byte("<LangVersion>6</LangVersion>"), 0644))
	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(csproj)
		return err == nil && string(data) == "<LangVersion>latest</LangVersion>"
	}, 3*time.Second, 20*time.Millisecond, "handlers survive reload without double registration")

	require.NoError(t, a.Queue.Flush())
	hist, err := a.History(10)
	require.NoError(t, err)
	assert.Equal(t, 1, hist.Count)
}

// lockedBuffer is a log sink safe for concurrent writers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) messages(t *testing.T) []string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var msgs []string
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &entry))
		if msg, _ := entry["msg"].(string); strings.Contains(msg, "reload") {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func TestApp_ConcurrentReloadsDoNotInterleave(t *testing.T) {
	root := newProject(t, map[string]string{"MyProj.sln": declaration("MyProj", "MyProj.csproj")})
	logs := &lockedBuffer{}
	a, err := New(Config{
		ProjectRoot: root,
		SocketPath:  filepath.Join(t.TempDir(), "d.sock"),
		Logger:      logging.New(config.Log{Level: "debug", Format: "json"}, logs),
	})
	require.NoError(t, err)
	require.NoError(t, a.Start())
	t.Cleanup(func() { a.Stop() })

	const n = 6
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- a.Reload()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.True(t, a.Watcher.Watching())

	msgs := logs.messages(t)
	require.Len(t, msgs, 2*n)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, "reloading config", msgs[i])
		assert.Equal(t, "config reloaded", msgs[i+1])
	}
}

func TestApp_ReloadInvalidConfigKeepsWatching(t *testing.T) {
	root := newProject(t, map[string]string{"MyProj.sln": declaration("MyProj", "MyProj.csproj")})
	a := startedApp(t, root)

	require.NoError(t, os.WriteFile(a.Paths.Config, []byte("settle: [\n"), 0644))
	err := a.Reload()
	assert.Error(t, err)
	assert.True(t, a.Watcher.Watching())
	assert.Equal(t, fixer.DefaultRules(), a.Config().Rules)
}

func TestApp_StopIsClean(t *testing.T) {
	root := newProject(t, nil)
	a := newTestApp(t, root)
	require.NoError(t, a.Start())
	require.NoError(t, a.Stop())

	assert.False(t, a.Watcher.Watching())
	_, err := os.Stat(a.Server.Addr())
	assert.True(t, os.IsNotExist(err))
	_, err = a.FixNow()
	assert.ErrorIs(t, err, ErrQueueStopped)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	root := newProject(t, nil)
	p := NewPaths(root)
	require.NoError(t, p.EnsureDirs())
	require.NoError(t, os.WriteFile(p.Config, []byte("project_ext: csproj\n"), 0644))

	_, err := New(Config{ProjectRoot: root, Logger: logging.Discard()})
	assert.ErrorContains(t, err, "load config")

	_, err = New(Config{})
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	root := newProject(t, map[string]string{
		"MyProj.sln":  declaration("Old", "Core.csproj"),
		"Core.csproj": fixer.DeprecatedOutputPath,
	})

	res, err := RunOnce(Config{ProjectRoot: root, Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fixed)
	assert.NotEmpty(t, res.Elapsed)
	assert.Equal(t, declaration("Core", "Core.csproj"), readFile(t, filepath.Join(root, "MyProj.sln")))

	res, err = RunOnce(Config{ProjectRoot: root, Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Fixed)
}

func TestErrorMessages(t *testing.T) {
	assert.Nil(t, errorMessages(nil))
	assert.Equal(t, []string{"one"}, errorMessages(errors.New("one")))

	joined := errors.Join(errors.New("a"), errors.Join(errors.New("b"), errors.New("c")))
	assert.Equal(t, []string{"a", "b", "c"}, errorMessages(joined))
}

func TestSkipVanished(t *testing.T) {
	assert.NoError(t, skipVanished(nil))
	assert.NoError(t, skipVanished(&os.PathError{Op: "open", Path: "x", Err: os.ErrNotExist}))
	assert.Error(t, skipVanished(os.ErrPermission))
}
