package capability

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	MaxClipDuration     = 30 * time.Second
	DefaultClipDuration = 5 * time.Second

	snapTimeout = 10 * time.Second
	clipGrace   = 10 * time.Second
)

var (
	dshowDevice = regexp.MustCompile(`\[dshow @.*?\]\s*"([^"]+)"\s*\(video\)`)
	avfDevice   = regexp.MustCompile(`\[AVFoundation indev @.*?\]\s*\[(\d+)\]\s*(.+)$`)
)

// CameraDevice is one video input.
type CameraDevice struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
}

// Camera drives ffmpeg for stills and clips.
type Camera struct {
	Exec
	FFmpegPath    string
	DefaultDevice string
	// Glob lists video device nodes on Linux.
	Glob func(pattern string) ([]string, error)
}

func (c *Camera) ffmpeg() string {
	if c.FFmpegPath != "" {
		return c.FFmpegPath
	}
	return "ffmpeg"
}

func (c *Camera) List(ctx context.Context) ([]CameraDevice, error) {
	switch c.goos() {
	case "windows":
		// ffmpeg exits non-zero after listing; the device list is on stderr.
		stdout, stderr, _ := c.run(ctx, c.ffmpeg(), []string{"-hide_banner", "-list_devices", "true", "-f", "dshow", "-i", "dummy"}, nil)
		return parseDshowDevices(string(stdout) + string(stderr)), nil
	case "darwin":
		stdout, stderr, _ := c.run(ctx, c.ffmpeg(), []string{"-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", ""}, nil)
		return parseAVFoundationDevices(string(stdout) + string(stderr)), nil
	default:
		glob := c.Glob
		if glob == nil {
			glob = filepath.Glob
		}
		nodes, err := glob("/dev/video*")
		if err != nil {
			return nil, fmt.Errorf("listing video devices: %w", err)
		}
		sort.Strings(nodes)
		devices := make([]CameraDevice, 0, len(nodes))
		for i, node := range nodes {
			devices = append(devices, CameraDevice{Name: node, Index: i})
		}
		return devices, nil
	}
}

func parseDshowDevices(output string) []CameraDevice {
	devices := []CameraDevice{}
	for _, line := range strings.Split(output, "\n") {
		if m := dshowDevice.FindStringSubmatch(line); m != nil {
			devices = append(devices, CameraDevice{Name: m[1], Index: len(devices)})
		}
	}
	return devices
}

func parseAVFoundationDevices(output string) []CameraDevice {
	devices := []CameraDevice{}
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "audio devices") {
			break
		}
		m := avfDevice.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		index, _ := strconv.Atoi(m[1])
		devices = append(devices, CameraDevice{Name: strings.TrimSpace(m[2]), Index: index})
	}
	return devices
}

func (c *Camera) inputArgs(device string) []string {
	if device == "" {
		device = c.DefaultDevice
	}
	switch c.goos() {
	case "windows":
		if device == "" {
			device = "Integrated Camera"
		}
		return []string{"-f", "dshow", "-i", "video=" + device}
	case "darwin":
		if device == "" {
			device = "0"
		}
		return []string{"-f", "avfoundation", "-framerate", "30", "-i", device}
	default:
		if device == "" {
			device = "/dev/video0"
		}
		return []string{"-f", "v4l2", "-i", device}
	}
}

// Snap captures one JPEG frame from device, or the default device.
func (c *Camera) Snap(ctx context.Context, device string) (Media, error) {
	ctx, cancel := context.WithTimeout(ctx, snapTimeout)
	defer cancel()

	path, err := tempPath("camera_*.jpg")
	if err != nil {
		return Media{}, err
	}
	args := append([]string{"-hide_banner", "-loglevel", "error"}, c.inputArgs(device)...)
	args = append(args, "-frames:v", "1", "-y", path)

	if err := c.record(ctx, args, path); err != nil {
		return Media{}, fmt.Errorf("camera capture failed: %w", err)
	}
	data, err := readOutput(path)
	if err != nil {
		return Media{}, err
	}
	return newMedia(data, "jpg"), nil
}

// ClampClipDuration applies the default and the upper bound.
func ClampClipDuration(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultClipDuration
	case d > MaxClipDuration:
		return MaxClipDuration
	default:
		return d
	}
}

// Clip records an H.264 clip of at most MaxClipDuration.
func (c *Camera) Clip(ctx context.Context, device string, duration time.Duration) (Media, error) {
	duration = ClampClipDuration(duration)
	ctx, cancel := context.WithTimeout(ctx, duration+clipGrace)
	defer cancel()

	path, err := tempPath("clip_*.mp4")
	if err != nil {
		return Media{}, err
	}
	seconds := int(duration / time.Second)
	args := append([]string{"-hide_banner", "-loglevel", "error"}, c.inputArgs(device)...)
	args = append(args, "-t", strconv.Itoa(seconds), "-c:v", "libx264", "-preset", "ultrafast", "-y", path)

	if err := c.record(ctx, args, path); err != nil {
		return Media{}, fmt.Errorf("clip recording failed: %w", err)
	}
	data, err := readOutput(path)
	if err != nil {
		return Media{}, err
	}
	media := newMedia(data, "mp4")
	media.Duration = seconds
	return media, nil
}

// record runs ffmpeg and accepts a non-zero exit when the output exists.
func (c *Camera) record(ctx context.Context, args []string, path string) error {
	_, err := c.output(ctx, c.ffmpeg(), args, nil)
	if err != nil && !fileExists(path) {
		return err
	}
	return nil
}
