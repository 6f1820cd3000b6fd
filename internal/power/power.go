// Package power reports whether the host is suspended.
package power

import (
	"os"
	"strings"
)

// Static always reports the same state.
type Static bool

func (s Static) IsSuspended() bool {
	return bool(s)
}

// File treats the host as suspended while Path exists and holds one of
// 1, true, sleep or suspend. Sleep hooks write the file on the way down
// and remove it on resume. Anything unreadable counts as awake.
type File struct {
	Path string
}

func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) IsSuspended() bool {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(string(raw))) {
	case "1", "true", "sleep", "suspend":
		return true
	}

	return false
}
