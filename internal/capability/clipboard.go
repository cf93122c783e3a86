package capability

import (
	"context"
	"strings"
)

type Clipboard struct {
	Exec
}

type clipTool struct {
	name string
	args []string
}

func (c *Clipboard) readTools() []clipTool {
	switch c.goos() {
	case "darwin":
		return []clipTool{{"pbpaste", nil}}
	case "windows":
		return []clipTool{{"powershell", []string{"-NoProfile", "-Command", "Get-Clipboard"}}}
	default:
		return []clipTool{
			{"wl-paste", []string{"--no-newline"}},
			{"xclip", []string{"-selection", "clipboard", "-o"}},
			{"xsel", []string{"--clipboard", "--output"}},
		}
	}
}

func (c *Clipboard) writeTools() []clipTool {
	switch c.goos() {
	case "darwin":
		return []clipTool{{"pbcopy", nil}}
	case "windows":
		return []clipTool{{"powershell", []string{"-NoProfile", "-Command", "Set-Clipboard -Value ([Console]::In.ReadToEnd())"}}}
	default:
		return []clipTool{
			{"wl-copy", nil},
			{"xclip", []string{"-selection", "clipboard", "-i"}},
			{"xsel", []string{"--clipboard", "--input"}},
		}
	}
}

func (c *Clipboard) pick(tools []clipTool) (clipTool, error) {
	if len(tools) == 1 {
		return tools[0], nil
	}
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.name
	}
	name, err := c.find(names...)
	if err != nil {
		return clipTool{}, err
	}
	for _, t := range tools {
		if t.name == name {
			return t, nil
		}
	}
	return clipTool{}, ErrNoTool
}

// Read returns the clipboard text, trimmed.
func (c *Clipboard) Read(ctx context.Context) (string, error) {
	tool, err := c.pick(c.readTools())
	if err != nil {
		return "", err
	}
	out, err := c.output(ctx, tool.name, tool.args, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *Clipboard) Write(ctx context.Context, text string) error {
	tool, err := c.pick(c.writeTools())
	if err != nil {
		return err
	}
	_, err = c.output(ctx, tool.name, tool.args, strings.NewReader(text))
	return err
}
