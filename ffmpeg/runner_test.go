package ffmpeg

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"ffscript/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg copies the first input to the last argument and reports
// progress on stderr the way ffmpeg does.
const fakeFFmpeg = `#!/bin/sh
for a in "$@"; do
  case "$a" in
    -version) echo "ffmpeg version fake"; exit 0 ;;
    -fail) echo "Invalid argument" >&2; exit 1 ;;
    -sleep) exec sleep 5 ;;
  esac
done
in=""
prev=""
last=""
for a in "$@"; do
  if [ "$prev" = "-i" ] && [ -z "$in" ]; then in="$a"; fi
  prev="$a"
  last="$a"
done
echo "  Duration: 00:00:10.00, start: 0.000000, bitrate: 1 kb/s" >&2
printf 'frame=1 time=00:00:05.00 bitrate=1\r' >&2
mkdir -p "$(dirname "$last")"
cp "$in" "$last"
`

func writeFakeFFmpeg(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg needs a POSIX shell")
	}
	bin := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(bin, []byte(fakeFFmpeg), 0o755))
	return bin
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		FFBin:        writeFakeFFmpeg(t),
		WorkDir:      t.TempDir(),
		MaxInputSize: 1024,
	}
}

func TestLocalEngine_Load(t *testing.T) {
	t.Run("missing binary", func(t *testing.T) {
		e := NewLocalEngine(&config.Config{FFBin: "ffscript-no-such-ffmpeg"})
		err := e.Loader().Load(context.Background())
		assert.ErrorContains(t, err, "not found")
		assert.Equal(t, StateFailed, e.Loader().State())
		assert.Empty(t, e.Dir())
	})

	t.Run("ready", func(t *testing.T) {
		cfg := testConfig(t)
		e := NewLocalEngine(cfg)
		require.NoError(t, e.Loader().Load(context.Background()))
		assert.Equal(t, StateReady, e.Loader().State())
		assert.Equal(t, cfg.WorkDir, e.Dir())
		assert.Equal(t, ModeLocal, e.Mode())
	})
}

func TestLocalEngine_Close(t *testing.T) {
	t.Run("removes a temporary work directory", func(t *testing.T) {
		e := NewLocalEngine(&config.Config{FFBin: writeFakeFFmpeg(t)})
		ws, err := e.Open(context.Background(), "job1", "")
		require.NoError(t, err)
		root := e.Dir()
		require.NotEmpty(t, root)
		require.NoError(t, ws.Close())

		require.NoError(t, e.Close())
		_, err = os.Stat(root)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("keeps a configured work directory", func(t *testing.T) {
		cfg := testConfig(t)
		e := NewLocalEngine(cfg)
		require.NoError(t, e.Loader().Load(context.Background()))

		require.NoError(t, e.Close())
		_, err := os.Stat(cfg.WorkDir)
		assert.NoError(t, err)
	})

	t.Run("never loaded", func(t *testing.T) {
		assert.NoError(t, NewLocalEngine(&config.Config{}).Close())
	})
}

func TestLocalEngine_Execute(t *testing.T) {
	ctx := context.Background()
	e := NewLocalEngine(testConfig(t))

	ws, err := e.Open(ctx, "job1", "u1")
	require.NoError(t, err)
	dir := ws.(*localWorkspace).dir
	defer ws.Close()

	require.NoError(t, ws.PrepareInput(ctx, "input_0.mp4", strings.NewReader("frames")))

	var progress []int
	logOut, err := ws.Execute(ctx, []string{"-y", "-i", "input_0.mp4", "-c:v", "libx264", "output.mp4"}, func(p int) {
		progress = append(progress, p)
	})
	require.NoError(t, err)
	assert.Contains(t, logOut, "Duration: 00:00:10.00")
	assert.Equal(t, []int{50}, progress)

	out, err := ws.ReadOutput(ctx, "output.mp4")
	require.NoError(t, err)
	data, err := io.ReadAll(out)
	out.Close()
	require.NoError(t, err)
	assert.Equal(t, "frames", string(data))

	require.NoError(t, ws.Close())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestLocalEngine_Errors(t *testing.T) {
	ctx := context.Background()
	e := NewLocalEngine(testConfig(t))

	_, err := e.Open(ctx, "../escape", "")
	assert.Error(t, err)

	ws, err := e.Open(ctx, "job2", "")
	require.NoError(t, err)
	defer ws.Close()

	t.Run("input name must be a base name", func(t *testing.T) {
		assert.Error(t, ws.PrepareInput(ctx, "../input_0.mp4", strings.NewReader("x")))
		assert.Error(t, ws.PrepareInput(ctx, "sub/input_0.mp4", strings.NewReader("x")))
	})

	t.Run("input too large", func(t *testing.T) {
		err := ws.PrepareInput(ctx, "input_0.mp4", strings.NewReader(strings.Repeat("x", 2048)))
		assert.ErrorContains(t, err, "exceeds limit")
	})

	t.Run("unsafe arguments never reach the engine", func(t *testing.T) {
		_, err := ws.Execute(ctx, []string{"-y", "-i", "/etc/passwd", "output.mp4"}, nil)
		assert.ErrorContains(t, err, "invalid command")
	})

	t.Run("engine failure returns the log", func(t *testing.T) {
		require.NoError(t, ws.PrepareInput(ctx, "input_0.mp4", strings.NewReader("x")))
		logOut, err := ws.Execute(ctx, []string{"-y", "-i", "input_0.mp4", "-fail", "output.mp4"}, nil)
		assert.ErrorContains(t, err, "ffmpeg execution failed")
		assert.Contains(t, logOut, "Invalid argument")
	})

	t.Run("output outside workspace", func(t *testing.T) {
		_, err := ws.ReadOutput(ctx, "../job1/output.mp4")
		assert.Error(t, err)
	})

	t.Run("cancellation stops the engine", func(t *testing.T) {
		cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		start := time.Now()
		_, err := ws.Execute(cctx, []string{"-y", "-i", "input_0.mp4", "-sleep", "output.mp4"}, nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 4*time.Second)
	})
}
