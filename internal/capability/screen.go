package capability

import (
	"context"
	"fmt"
	"time"
)

const screenTimeout = 30 * time.Second

type Screen struct {
	Exec
}

// Capture grabs the primary screen as PNG.
func (s *Screen) Capture(ctx context.Context) (Media, error) {
	ctx, cancel := context.WithTimeout(ctx, screenTimeout)
	defer cancel()

	path, err := tempPath("screenshot_*.png")
	if err != nil {
		return Media{}, err
	}

	name, args, err := s.captureCommand(path)
	if err != nil {
		return Media{}, err
	}
	if _, err := s.output(ctx, name, args, nil); err != nil {
		return Media{}, fmt.Errorf("screen capture failed: %w", err)
	}

	data, err := readOutput(path)
	if err != nil {
		return Media{}, err
	}
	return newMedia(data, "png"), nil
}

func (s *Screen) captureCommand(path string) (string, []string, error) {
	switch s.goos() {
	case "darwin":
		return "screencapture", []string{"-x", path}, nil
	case "windows":
		script := "Add-Type -AssemblyName System.Windows.Forms; Add-Type -AssemblyName System.Drawing; " +
			"$b = [System.Windows.Forms.Screen]::PrimaryScreen.Bounds; " +
			"$bmp = New-Object System.Drawing.Bitmap($b.Width, $b.Height); " +
			"$g = [System.Drawing.Graphics]::FromImage($bmp); " +
			"$g.CopyFromScreen($b.X, $b.Y, 0, 0, $bmp.Size); " +
			"$bmp.Save(" + psQuote(path) + ", [System.Drawing.Imaging.ImageFormat]::Png); " +
			"$g.Dispose(); $bmp.Dispose()"
		return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", script}, nil
	default:
		tool, err := s.find("grim", "gnome-screenshot", "scrot", "import")
		if err != nil {
			return "", nil, err
		}
		switch tool {
		case "gnome-screenshot":
			return tool, []string{"-f", path}, nil
		case "scrot":
			return tool, []string{"--overwrite", path}, nil
		case "import":
			return tool, []string{"-window", "root", path}, nil
		default:
			return tool, []string{path}, nil
		}
	}
}
