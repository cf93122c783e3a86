package browser

import "time"

type Status struct {
	Running   bool   `json:"running"`
	Profile   string `json:"profile,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	URL       string `json:"url,omitempty"`
	Title     string `json:"title,omitempty"`
}

type Started struct {
	Running     bool   `json:"running"`
	Profile     string `json:"profile"`
	UserDataDir string `json:"userDataDir"`
	SessionID   string `json:"sessionId"`
}

type Navigated struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
}

type Snapshot struct {
	OK       bool   `json:"ok"`
	Format   string `json:"format"`
	Snapshot string `json:"snapshot"`
	TargetID string `json:"targetId"`
	URL      string `json:"url"`
}

type Screenshot struct {
	OK       bool   `json:"ok"`
	Path     string `json:"path"`
	TargetID string `json:"targetId"`
	URL      string `json:"url"`
}

type Acted struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
}

type Evaluated struct {
	Result any `json:"result"`
}

type Content struct {
	Content string `json:"content"`
}

type Tab struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}

type Tabs struct {
	Tabs []Tab `json:"tabs"`
}

type TabChanged struct {
	Success bool   `json:"success"`
	Focused string `json:"focused,omitempty"`
	Closed  string `json:"closed,omitempty"`
}

type ConsoleEntry struct {
	Type string    `json:"type"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

type ConsoleLogs struct {
	Logs []ConsoleEntry `json:"logs"`
}

type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

type Cookies struct {
	Cookies []Cookie `json:"cookies"`
}

type Done struct {
	Success bool `json:"success"`
}
