// Package modgen talks to the code-generation service that proposes page
// modifications.
//
// A Request carries the user's instruction, an optional screenshot and the
// current page source. In GENERATOR mode the result is a set of files (CSS,
// user scripts, extension manifests); in INSPECTOR mode it is a technical
// analysis. File.PatchKind tells the preview which files it can apply live.
//
// The Gemini implementation asks for JSON matching a response schema and
// sits behind a circuit breaker so a failing upstream is not hammered.
package modgen
