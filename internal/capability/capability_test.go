package capability

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name  string
	args  []string
	stdin string
}

// fakeRunner records calls and replays a scripted response. When write is
// set, the last argument is treated as an output path and filled with it.
type fakeRunner struct {
	mu     sync.Mutex
	calls  []call
	stdout string
	stderr string
	err    error
	write  []byte
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	c := call{name: name, args: args}
	if stdin != nil {
		data, _ := io.ReadAll(stdin)
		c.stdin = string(data)
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	if f.write != nil && len(args) > 0 {
		_ = os.WriteFile(args[len(args)-1], f.write, 0o600)
	}
	return []byte(f.stdout), []byte(f.stderr), f.err
}

func (f *fakeRunner) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type exitError int

func (e exitError) Error() string { return "exit status" }
func (e exitError) ExitCode() int { return int(e) }

func onPath(names ...string) func(string) (string, error) {
	return func(file string) (string, error) {
		for _, n := range names {
			if n == file {
				return "/usr/bin/" + file, nil
			}
		}
		return "", errors.New("not found")
	}
}

func TestShell_Run(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		runner := &fakeRunner{stdout: "hello\n"}
		sh := &Shell{Exec: Exec{Runner: runner, GOOS: "linux"}}

		result, err := sh.Run(context.Background(), "echo hello", 0)
		require.NoError(t, err)
		assert.Equal(t, RunResult{Success: true, Stdout: "hello\n"}, result)
		assert.Equal(t, "/bin/sh", runner.last().name)
		assert.Equal(t, []string{"-c", "echo hello"}, runner.last().args)
	})

	t.Run("non-zero exit is a result", func(t *testing.T) {
		runner := &fakeRunner{stderr: "boom", err: exitError(3)}
		sh := &Shell{Exec: Exec{Runner: runner, GOOS: "linux"}}

		result, err := sh.Run(context.Background(), "false", 0)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, 3, result.Code)
		assert.Equal(t, "boom", result.Stderr)
	})

	t.Run("windows uses cmd", func(t *testing.T) {
		runner := &fakeRunner{}
		sh := &Shell{Exec: Exec{Runner: runner, GOOS: "windows"}}

		_, err := sh.Run(context.Background(), "dir", time.Second)
		require.NoError(t, err)
		assert.Equal(t, "cmd", runner.last().name)
		assert.Equal(t, []string{"/C", "dir"}, runner.last().args)
	})

	t.Run("empty command", func(t *testing.T) {
		sh := &Shell{Exec: Exec{Runner: &fakeRunner{}}}
		_, err := sh.Run(context.Background(), "", 0)
		assert.Error(t, err)
	})

	t.Run("start failure is an error", func(t *testing.T) {
		sh := &Shell{Exec: Exec{Runner: &fakeRunner{err: errors.New("no shell")}, GOOS: "linux"}}
		_, err := sh.Run(context.Background(), "ls", 0)
		assert.Error(t, err)
	})
}

func TestShell_Which(t *testing.T) {
	sh := &Shell{Exec: Exec{LookPath: onPath("git", "ffmpeg")}}
	found := sh.Which([]string{"git", "missing", "ffmpeg", ""})
	assert.Equal(t, map[string]string{"git": "/usr/bin/git", "ffmpeg": "/usr/bin/ffmpeg"}, found)
}

func TestClipboard_LinuxPicksAvailableTool(t *testing.T) {
	runner := &fakeRunner{stdout: "  copied text \n"}
	cb := &Clipboard{Exec: Exec{Runner: runner, GOOS: "linux", LookPath: onPath("xclip")}}

	text, err := cb.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "copied text", text)
	assert.Equal(t, "xclip", runner.last().name)

	require.NoError(t, cb.Write(context.Background(), "new value"))
	assert.Equal(t, []string{"-selection", "clipboard", "-i"}, runner.last().args)
	assert.Equal(t, "new value", runner.last().stdin)
}

func TestClipboard_NoTool(t *testing.T) {
	cb := &Clipboard{Exec: Exec{Runner: &fakeRunner{}, GOOS: "linux", LookPath: onPath()}}
	_, err := cb.Read(context.Background())
	assert.ErrorIs(t, err, ErrNoTool)
}

func TestNotifier_Platforms(t *testing.T) {
	t.Run("linux", func(t *testing.T) {
		runner := &fakeRunner{}
		n := &Notifier{Exec: Exec{Runner: runner, GOOS: "linux", LookPath: onPath("notify-send")}, AppName: "Node"}
		require.NoError(t, n.Notify(context.Background(), "Title", "Body"))
		assert.Equal(t, []string{"-a", "Node", "Title", "Body"}, runner.last().args)
	})

	t.Run("darwin escapes quotes", func(t *testing.T) {
		runner := &fakeRunner{}
		n := &Notifier{Exec: Exec{Runner: runner, GOOS: "darwin"}}
		require.NoError(t, n.Notify(context.Background(), `Say "hi"`, "Body"))
		assert.Equal(t, "osascript", runner.last().name)
		assert.Contains(t, runner.last().args[1], `with title "Say \"hi\""`)
	})

	t.Run("windows toast escapes markup", func(t *testing.T) {
		script := toastScript("Clawd", "<b>", "it's")
		assert.Contains(t, script, "&lt;b&gt;")
		assert.Contains(t, script, "it&apos;s")
	})

	t.Run("failure surfaces stderr", func(t *testing.T) {
		runner := &fakeRunner{err: errors.New("exit 1"), stderr: "no display"}
		n := &Notifier{Exec: Exec{Runner: runner, GOOS: "linux", LookPath: onPath("notify-send")}}
		err := n.Notify(context.Background(), "t", "m")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no display")
	})
}

func TestScreen_Capture(t *testing.T) {
	png := []byte("\x89PNG fake")
	runner := &fakeRunner{write: png}
	s := &Screen{Exec: Exec{Runner: runner, GOOS: "linux", LookPath: onPath("grim")}}

	media, err := s.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "png", media.Format)
	assert.Equal(t, len(png), media.Size)
	decoded, err := base64.StdEncoding.DecodeString(media.Base64)
	require.NoError(t, err)
	assert.Equal(t, png, decoded)

	_, statErr := os.Stat(runner.last().args[0])
	assert.True(t, os.IsNotExist(statErr), "capture file should be removed")
}

func TestCamera_ParseDshow(t *testing.T) {
	out := `[dshow @ 000001] "Integrated Camera" (video)
[dshow @ 000001]   Alternative name "@device_pnp_..."
[dshow @ 000001] "Microphone Array" (audio)
[dshow @ 000001] "OBS Virtual Camera" (video)`
	assert.Equal(t, []CameraDevice{
		{Name: "Integrated Camera", Index: 0},
		{Name: "OBS Virtual Camera", Index: 1},
	}, parseDshowDevices(out))
}

func TestCamera_ParseAVFoundation(t *testing.T) {
	out := `[AVFoundation indev @ 0x7f] AVFoundation video devices:
[AVFoundation indev @ 0x7f] [0] FaceTime HD Camera
[AVFoundation indev @ 0x7f] [1] Capture screen 0
[AVFoundation indev @ 0x7f] AVFoundation audio devices:
[AVFoundation indev @ 0x7f] [0] MacBook Pro Microphone`
	assert.Equal(t, []CameraDevice{
		{Name: "FaceTime HD Camera", Index: 0},
		{Name: "Capture screen 0", Index: 1},
	}, parseAVFoundationDevices(out))
}

func TestCamera_ListLinux(t *testing.T) {
	c := &Camera{Exec: Exec{GOOS: "linux"}, Glob: func(string) ([]string, error) {
		return []string{"/dev/video2", "/dev/video0"}, nil
	}}
	devices, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []CameraDevice{{Name: "/dev/video0", Index: 0}, {Name: "/dev/video2", Index: 1}}, devices)
}

func TestCamera_ClipIsCapped(t *testing.T) {
	runner := &fakeRunner{write: []byte("mp4")}
	c := &Camera{Exec: Exec{Runner: runner, GOOS: "linux"}}

	media, err := c.Clip(context.Background(), "", 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 30, media.Duration)
	assert.Equal(t, "mp4", media.Format)
	assert.Contains(t, runner.last().args, "/dev/video0")

	idx := indexOf(runner.last().args, "-t")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "30", runner.last().args[idx+1])
}

func TestCamera_SnapToleratesExitWhenFileWritten(t *testing.T) {
	runner := &fakeRunner{write: []byte("jpeg"), err: exitError(1)}
	c := &Camera{Exec: Exec{Runner: runner, GOOS: "windows"}, DefaultDevice: "USB Cam"}

	media, err := c.Snap(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "jpg", media.Format)
	assert.Contains(t, runner.last().args, "video=USB Cam")
}

func TestCamera_SnapFailsWithoutOutput(t *testing.T) {
	runner := &fakeRunner{err: errors.New("device busy")}
	c := &Camera{Exec: Exec{Runner: runner, GOOS: "linux"}}

	_, err := c.Snap(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera capture failed")
}

func TestClampClipDuration(t *testing.T) {
	assert.Equal(t, DefaultClipDuration, ClampClipDuration(0))
	assert.Equal(t, 10*time.Second, ClampClipDuration(10*time.Second))
	assert.Equal(t, MaxClipDuration, ClampClipDuration(time.Hour))
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
