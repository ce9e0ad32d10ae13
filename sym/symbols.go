// Package sym holds the glyphs reel uses to tag log lines and CLI output
// by pipeline stage.
package sym

// Pipeline stages.
const (
	Submit      = "⇡" // job submitted to a provider
	Poll        = "⟳" // remote task status polling
	Materialize = "⇣" // artifact download and re-upload to owned storage
	Done        = "✓" // terminal completed
	Failed      = "✗" // terminal failed
)

// System infrastructure.
const (
	Runner       = "꩜" // pipeline runner, in-flight registry
	RunnerOpen   = "✿" // startup with resume of stale jobs
	RunnerClose  = "❀" // graceful shutdown
	DB           = "⊔" // database layer
	Storage      = "▤" // owned object storage
	Housekeeping = "⌗" // periodic maintenance tasks
	Config       = "≡" // configuration
)

// Stage returns the glyph for a named pipeline stage, or "" if unknown.
func Stage(name string) string {
	switch name {
	case "submit":
		return Submit
	case "poll", "processing":
		return Poll
	case "materialize":
		return Materialize
	case "completed":
		return Done
	case "failed":
		return Failed
	}
	return ""
}
