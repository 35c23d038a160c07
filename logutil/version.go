package logutil

import "runtime/debug"

var GitCommit string

// Version derives the build version from VCS build info
func Version() string {
	if GitCommit != "" {
		return GitCommit
	}
	GitCommit = "unknown"
	buildDate := ""

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return GitCommit
	}
	modified := false

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			GitCommit = setting.Value
		case "vcs.time":
			buildDate = setting.Value
		case "vcs.modified":
			modified = true
		}
	}
	if modified {
		GitCommit += "+CHANGES"
	}
	if buildDate != "" {
		GitCommit += " " + buildDate
	}
	return GitCommit
}
