package version

import "fmt"

// Set at build time via -ldflags.
var (
	Tag    = "v0.0.0-dev"
	Commit = ""
)

type Version struct {
	Tag    string `json:"tag,omitempty"`
	Commit string `json:"commit,omitempty"`
}

func Get() Version {
	return Version{
		Tag:    Tag,
		Commit: Commit,
	}
}

func (v Version) String() string {
	if v.Commit == "" {
		return v.Tag
	}
	return fmt.Sprintf("%s (%s)", v.Tag, v.Commit)
}
