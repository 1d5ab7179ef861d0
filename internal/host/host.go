// Package host defines the capability interface the embedding editor
// provides to the tool executor. Implementations that live on a UI thread
// must marshal calls onto it and block until the UI thread answers; the
// executor guards every call with a timeout so a wedged UI cannot hang a
// stream forever.
package host

import "encoding/json"

// DocumentHost exposes editor operations the backend can request through
// tools. Every method returns a raw JSON payload that is forwarded to the
// backend verbatim.
type DocumentHost interface {
	// RunDRC runs the design rule check and returns violations.
	RunDRC() (json.RawMessage, error)

	// RunERC runs the electrical rule check and returns violations.
	RunERC() (json.RawMessage, error)

	// RunAnnotate (re)annotates component references.
	RunAnnotate(opts json.RawMessage) (json.RawMessage, error)

	// GenerateGerbers plots fabrication outputs and returns the file list.
	GenerateGerbers(opts json.RawMessage) (json.RawMessage, error)

	// GenerateDrillFiles produces drill files and returns the file list.
	GenerateDrillFiles(opts json.RawMessage) (json.RawMessage, error)

	// Autoroute routes the board. The payload carries success, message and
	// a progress log.
	Autoroute(params json.RawMessage) (json.RawMessage, error)

	// TakeSnapshot renders the current view and returns base64 SVG.
	TakeSnapshot() (string, error)

	// ConfirmDelete asks the user to approve deleting the named file. The
	// returned channel yields exactly one value.
	ConfirmDelete(filename string) <-chan bool
}
