// Package models holds the canonical annotation entity and the wire types
// exchanged with the collaboration service.
package models

import (
	"encoding/json"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// AnnotationType discriminates the markup kinds. The type of an annotation
// is immutable after creation; changing kind means delete and recreate.
type AnnotationType string

const (
	TypeHighlight AnnotationType = "highlight"
	TypeUnderline AnnotationType = "underline"
	TypeStrike    AnnotationType = "strike"
	TypeDraw      AnnotationType = "draw"
	TypeNote      AnnotationType = "note"
	TypeShape     AnnotationType = "shape"
	TypeStamp     AnnotationType = "stamp"
	TypeSignature AnnotationType = "signature"
	TypeForm      AnnotationType = "form"
)

// AnnotationTypes lists every valid annotation type.
var AnnotationTypes = []AnnotationType{
	TypeHighlight, TypeUnderline, TypeStrike, TypeDraw, TypeNote,
	TypeShape, TypeStamp, TypeSignature, TypeForm,
}

// IsInk reports whether the type stores its geometry as a point path
// rather than rectangles.
func (t AnnotationType) IsInk() bool {
	return t == TypeDraw || t == TypeSignature
}

// ShapeKind discriminates the rendering of a shape annotation.
type ShapeKind string

const (
	ShapeRect  ShapeKind = "rect"
	ShapeArrow ShapeKind = "arrow"
)

// Style carries the visual attributes of an annotation.
type Style struct {
	Color     string    `json:"color"`
	Opacity   float64   `json:"opacity"`
	Thickness float64   `json:"thickness"`
	Shape     ShapeKind `json:"shape,omitempty"`
}

// FormField is the structured content payload of a form annotation,
// serialized into Annotation.Content as JSON.
type FormField struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Placeholder string `json:"placeholder,omitempty"`
	InputKind   string `json:"input_kind"`
	Required    bool   `json:"required"`
}

func (f FormField) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Label, validation.Required, validation.Length(1, 200)),
		validation.Field(&f.InputKind, validation.Required,
			validation.In("text", "checkbox", "date", "dropdown")),
	)
}

// Encode serializes the descriptor for storage in Annotation.Content.
func (f FormField) Encode() (string, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeFormField parses an Annotation.Content payload back into a
// descriptor.
func DecodeFormField(content string) (FormField, error) {
	var f FormField
	err := json.Unmarshal([]byte(content), &f)
	return f, err
}

// tempIDPrefix marks client-generated ids that have not been confirmed by
// the server yet. An annotation carrying one must never be treated as
// durable or broadcast as authoritative.
const tempIDPrefix = "tmp-"

// NewTempID returns a fresh client-side annotation id.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was generated by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// Annotation is a markup object anchored to a single document page.
//
// Exactly one geometry representation is populated depending on the type:
// Points for ink types (draw, signature), Rects for everything else.
// Coordinates are page space, independent of zoom; screen-space values are
// derived on render and never stored.
type Annotation struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Page       int            `json:"page"`
	Type       AnnotationType `json:"type"`
	Rects      []Rect         `json:"rects,omitempty"`
	Points     []Point        `json:"points,omitempty"`
	Style      Style          `json:"style"`
	Content    string         `json:"content,omitempty"`
	Author     string         `json:"author,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`

	// Revision is the optimistic-concurrency counter. It starts at the
	// server's initial value on creation and is incremented by the server
	// on each accepted update. Clients never lower it locally.
	Revision int `json:"revision"`
}

// IsPending reports whether the annotation still carries a client-generated
// id, i.e. creation has not been confirmed by the server.
func (a *Annotation) IsPending() bool {
	return IsTempID(a.ID)
}

func (a Annotation) Validate() error {
	err := validation.ValidateStruct(&a,
		validation.Field(&a.ID, validation.Required),
		validation.Field(&a.DocumentID, validation.Required),
		validation.Field(&a.Page, validation.Min(1)),
		validation.Field(&a.Type, validation.Required, validation.By(validType)),
		validation.Field(&a.Style, validation.By(validStyle)),
		validation.Field(&a.Revision, validation.Min(0)),
	)
	if err != nil {
		return err
	}
	return a.validateGeometry()
}

func validType(value any) error {
	t, _ := value.(AnnotationType)
	for _, known := range AnnotationTypes {
		if t == known {
			return nil
		}
	}
	return validation.NewError("validation_annotation_type", "unknown annotation type")
}

func validStyle(value any) error {
	s, _ := value.(Style)
	return validation.ValidateStruct(&s,
		validation.Field(&s.Opacity, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&s.Thickness, validation.Min(0.0)),
	)
}

func (a Annotation) validateGeometry() error {
	if a.Type.IsInk() {
		if len(a.Rects) > 0 {
			return validation.NewError("validation_geometry", "ink annotations must not carry rects")
		}
		if len(a.Points) < 2 {
			return validation.NewError("validation_geometry", "ink annotations need at least two points")
		}
		return nil
	}
	if len(a.Points) > 0 {
		return validation.NewError("validation_geometry", "rect annotations must not carry points")
	}
	if len(a.Rects) == 0 {
		return validation.NewError("validation_geometry", "rect annotations need at least one rect")
	}
	return nil
}

// Clone returns a deep copy, so optimistic snapshots cannot alias the
// slices held by the store.
func (a Annotation) Clone() Annotation {
	c := a
	if a.Rects != nil {
		c.Rects = append([]Rect(nil), a.Rects...)
	}
	if a.Points != nil {
		c.Points = append([]Point(nil), a.Points...)
	}
	return c
}

// Patch is a partial annotation update. Nil fields are left untouched by
// Apply; the zero value is a no-op.
type Patch struct {
	Rects   []Rect   `json:"rects,omitempty"`
	Points  []Point  `json:"points,omitempty"`
	Style   *Style   `json:"style,omitempty"`
	Content *string  `json:"content,omitempty"`
	Page    *int     `json:"page,omitempty"`
}

// Apply shallow-merges the patch into a copy of the annotation.
func (p Patch) Apply(a Annotation) Annotation {
	next := a.Clone()
	if p.Rects != nil {
		next.Rects = append([]Rect(nil), p.Rects...)
	}
	if p.Points != nil {
		next.Points = append([]Point(nil), p.Points...)
	}
	if p.Style != nil {
		next.Style = *p.Style
	}
	if p.Content != nil {
		next.Content = *p.Content
	}
	if p.Page != nil {
		next.Page = *p.Page
	}
	return next
}
