package entity

// Release is a game record returned by the manifest source.
type Release struct {
	Name        string
	Version     string
	Description string // Markdown
	Logo        string
	Manifest    *Manifest
}

// ServerStatus is the reachability of the content server.
type ServerStatus struct {
	Online bool `json:"online"`
}

// UpdateInfo compares the installed manifest with the published one.
type UpdateInfo struct {
	UpdatesAvailable bool   `json:"updatesAvailable"`
	Installed        bool   `json:"installed"`
	InstalledVersion string `json:"installedVersion,omitempty"`
	LatestVersion    string `json:"latestVersion"`
}

// ReleaseNotes is the release description rendered to HTML.
type ReleaseNotes struct {
	Title   string `json:"title"`
	Author  string `json:"author,omitempty"`
	Version string `json:"version"`
	Logo    string `json:"logo,omitempty"`
	HTML    string `json:"html"`
}
