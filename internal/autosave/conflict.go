package autosave

import (
	"fmt"
	"time"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// Resolution is the user's answer to a conflict.
type Resolution int

const (
	// Reload discards local edits and the draft, then adopts the server document.
	Reload Resolution = iota
	// ForceSave writes the local content over the server version.
	ForceSave
	// Dismiss postpones the decision; the conflict and the unsaved content stay.
	Dismiss
)

func (r Resolution) String() string {
	switch r {
	case Reload:
		return "reload"
	case ForceSave:
		return "force_save"
	case Dismiss:
		return "dismiss"
	}
	return fmt.Sprintf("Resolution(%d)", int(r))
}

// Conflict describes the two diverged versions of a document.
type Conflict struct {
	DocumentID string
	// ExpectedVersion is the version the local edits are based on.
	ExpectedVersion int
	// CurrentVersion is the version stored on the server.
	CurrentVersion  int
	LocalContent    string
	ServerContent   string
	ServerUpdatedAt time.Time
	ServerUpdatedBy *string
	// Dismissed is set once the user chose to decide later.
	Dismissed bool
}

// Diff renders a unified diff from the server content to the local content.
// Identical contents give an empty string.
func (c Conflict) Diff() string {
	edits := myers.ComputeEdits(span.URIFromPath("server"), c.ServerContent, c.LocalContent)
	from := fmt.Sprintf("server (v%d)", c.CurrentVersion)
	to := fmt.Sprintf("local (based on v%d)", c.ExpectedVersion)
	return fmt.Sprint(gotextdiff.ToUnified(from, to, c.ServerContent, edits))
}
