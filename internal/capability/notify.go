package capability

import (
	"context"
	"fmt"
	"strings"
)

const defaultAppName = "Clawd"

// Notifier shows desktop notifications. It also serves as the status
// notifier of the connection manager.
type Notifier struct {
	Exec
	AppName string
}

func (n *Notifier) Notify(ctx context.Context, title, message string) error {
	app := n.AppName
	if app == "" {
		app = defaultAppName
	}

	switch n.goos() {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", appleQuote(message), appleQuote(title))
		_, err := n.output(ctx, "osascript", []string{"-e", script}, nil)
		return err
	case "windows":
		_, err := n.output(ctx, "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", toastScript(app, title, message)}, nil)
		return err
	default:
		if _, err := n.find("notify-send"); err != nil {
			return err
		}
		_, err := n.output(ctx, "notify-send", []string{"-a", app, title, message}, nil)
		return err
	}
}

func appleQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
	return r.Replace(s)
}

func toastScript(app, title, message string) string {
	xml := fmt.Sprintf(`<toast><visual><binding template="ToastText02"><text id="1">%s</text><text id="2">%s</text></binding></visual></toast>`,
		xmlEscape(title), xmlEscape(message))
	return strings.Join([]string{
		"[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null",
		"[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null",
		"$xml = New-Object Windows.Data.Xml.Dom.XmlDocument",
		"$xml.LoadXml(" + psQuote(xml) + ")",
		"$toast = [Windows.UI.Notifications.ToastNotification]::new($xml)",
		"[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier(" + psQuote(app) + ").Show($toast)",
	}, "; ")
}
