package models

// Tool is the currently selected editing tool. Every tool except select
// maps to the annotation type it creates.
type Tool string

const (
	ToolSelect    Tool = "select"
	ToolHighlight Tool = "highlight"
	ToolUnderline Tool = "underline"
	ToolStrike    Tool = "strike"
	ToolDraw      Tool = "draw"
	ToolNote      Tool = "note"
	ToolShape     Tool = "shape"
	ToolStamp     Tool = "stamp"
	ToolSignature Tool = "signature"
	ToolForm      Tool = "form"
)

// AnnotationType returns the type created by the tool. ok is false for the
// select tool, which never creates annotations.
func (t Tool) AnnotationType() (AnnotationType, bool) {
	switch t {
	case ToolHighlight:
		return TypeHighlight, true
	case ToolUnderline:
		return TypeUnderline, true
	case ToolStrike:
		return TypeStrike, true
	case ToolDraw:
		return TypeDraw, true
	case ToolNote:
		return TypeNote, true
	case ToolShape:
		return TypeShape, true
	case ToolStamp:
		return TypeStamp, true
	case ToolSignature:
		return TypeSignature, true
	case ToolForm:
		return TypeForm, true
	}
	return "", false
}

// IsTextAnchored reports whether the tool commits from a text selection
// instead of a pointer drag.
func (t Tool) IsTextAnchored() bool {
	return t == ToolHighlight || t == ToolUnderline || t == ToolStrike
}

// IsInk reports whether the tool captures a freehand point path.
func (t Tool) IsInk() bool {
	return t == ToolDraw || t == ToolSignature
}
