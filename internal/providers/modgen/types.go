package modgen

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	ErrDisabled     = errors.New("code generation is not configured")
	ErrEmptyRequest = errors.New("request needs text or an image")
	ErrBadImage     = errors.New("attachment is not an image")
	ErrNoResponse   = errors.New("generator returned no content")
	ErrUnknownKind  = errors.New("unknown modification kind")
	ErrUnknownMode  = errors.New("unknown mode")
	ErrUpstream     = errors.New("generator request failed")
)

// Kind is the artifact the generator should produce
type Kind string

const (
	KindChromeExtension Kind = "CHROME_EXTENSION"
	KindUserScript      Kind = "USER_SCRIPT"
	KindCSSOnly         Kind = "CSS_ONLY"
)

// Mode selects between producing code and analysing the page
type Mode string

const (
	ModeGenerator Mode = "GENERATOR"
	ModeInspector Mode = "INSPECTOR"
)

// Request is one modification or analysis round
type Request struct {
	Text       string
	Image      []byte
	ImageMIME  string // detected when empty
	PageSource string
	Kind       Kind
	Mode       Mode
}

// Validate fills defaults and rejects unusable requests
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" && len(r.Image) == 0 {
		return ErrEmptyRequest
	}
	switch r.Kind {
	case "":
		r.Kind = KindUserScript
	case KindChromeExtension, KindUserScript, KindCSSOnly:
	default:
		return fmt.Errorf("%w %q", ErrUnknownKind, r.Kind)
	}
	switch r.Mode {
	case "":
		r.Mode = ModeGenerator
	case ModeGenerator, ModeInspector:
	default:
		return fmt.Errorf("%w %q", ErrUnknownMode, r.Mode)
	}
	return nil
}

// File is one generated file
type File struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

// PatchKind says how a file can be applied to a live preview
type PatchKind string

const (
	PatchNone PatchKind = ""
	PatchCSS  PatchKind = "css"
	PatchJS   PatchKind = "js"
)

// PatchKind classifies the file by language, then by extension. Manifests
// and documentation are never applied.
func (f File) PatchKind() PatchKind {
	name := strings.ToLower(path.Base(f.Name))
	if name == "manifest.json" {
		return PatchNone
	}

	switch strings.ToLower(strings.TrimSpace(f.Language)) {
	case "css":
		return PatchCSS
	case "javascript", "js":
		return PatchJS
	case "json", "html", "markdown", "plaintext":
		return PatchNone
	}

	switch path.Ext(name) {
	case ".css":
		return PatchCSS
	case ".js", ".mjs":
		return PatchJS
	}
	return PatchNone
}

// Result is the generator's answer
type Result struct {
	Explanation string `json:"explanation"`
	Files       []File `json:"files"`
}

// Generator produces modifications for a page
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Project groups one round's output for display
type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Explanation string    `json:"explanation"`
	Files       []File    `json:"files"`
	Created     time.Time `json:"created"`
}

// NewProject wraps a result
func NewProject(req Request, res *Result) Project {
	return Project{
		ID:          uuid.NewString(),
		Title:       ProjectTitle(req.Mode, req.Text),
		Explanation: res.Explanation,
		Files:       res.Files,
		Created:     time.Now(),
	}
}

const titleRunes = 15

// ProjectTitle derives a short title: "Mod: ..." or "Analysis: ..." followed
// by the first characters of the request.
func ProjectTitle(mode Mode, text string) string {
	prefix := "Mod: "
	if mode == ModeInspector {
		prefix = "Analysis: "
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > titleRunes {
		text = string([]rune(text)[:titleRunes])
	}
	return prefix + text + "..."
}
