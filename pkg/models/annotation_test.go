package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemark/pagemark.go/pkg/models"
)

func validHighlight() models.Annotation {
	return models.Annotation{
		ID:         models.NewTempID(),
		DocumentID: "doc-1",
		Page:       1,
		Type:       models.TypeHighlight,
		Rects:      []models.Rect{{X: 10, Y: 10, Width: 100, Height: 30}},
		Style:      models.Style{Color: "#facc15", Opacity: 0.35, Thickness: 2},
	}
}

func TestAnnotationValidate(t *testing.T) {
	require.NoError(t, validHighlight().Validate())
}

func TestAnnotationValidateGeometryPerType(t *testing.T) {
	a := validHighlight()
	a.Points = []models.Point{{X: 1, Y: 1}}
	assert.Error(t, a.Validate(), "rect-bound type must not carry points")

	draw := models.Annotation{
		ID:         models.NewTempID(),
		DocumentID: "doc-1",
		Page:       2,
		Type:       models.TypeDraw,
		Points:     []models.Point{{X: 1, Y: 1}, {X: 2, Y: 2}},
		Style:      models.Style{Color: "#2563eb", Opacity: 1, Thickness: 2},
	}
	require.NoError(t, draw.Validate())

	draw.Points = draw.Points[:1]
	assert.Error(t, draw.Validate(), "single-point ink is invalid")

	draw.Points = nil
	draw.Rects = []models.Rect{{Width: 5, Height: 5}}
	assert.Error(t, draw.Validate(), "ink type must not carry rects")
}

func TestAnnotationValidateRejectsUnknownType(t *testing.T) {
	a := validHighlight()
	a.Type = "scribble"
	assert.Error(t, a.Validate())
}

func TestTempID(t *testing.T) {
	id := models.NewTempID()
	assert.True(t, models.IsTempID(id))
	assert.False(t, models.IsTempID("42"))

	a := validHighlight()
	assert.True(t, a.IsPending())
	a.ID = "42"
	assert.False(t, a.IsPending())
}

func TestPatchApply(t *testing.T) {
	a := validHighlight()
	content := "reviewed"
	patched := models.Patch{Content: &content}.Apply(a)

	assert.Equal(t, "reviewed", patched.Content)
	assert.Equal(t, a.Rects, patched.Rects)
	assert.Empty(t, a.Content, "source annotation is not mutated")

	patched.Rects[0].X = 999
	assert.Equal(t, 10.0, a.Rects[0].X, "patched copy must not alias source slices")
}

func TestFormFieldRoundTrip(t *testing.T) {
	field := models.FormField{Label: "Signature date", InputKind: "date", Required: true}
	require.NoError(t, field.Validate())

	encoded, err := field.Encode()
	require.NoError(t, err)

	decoded, err := models.DecodeFormField(encoded)
	require.NoError(t, err)
	assert.Equal(t, field, decoded)
}

func TestFormFieldValidate(t *testing.T) {
	assert.Error(t, models.FormField{InputKind: "text"}.Validate(), "label required")
	assert.Error(t, models.FormField{Label: "x", InputKind: "slider"}.Validate(), "unknown input kind")
}

func TestColorForIDStable(t *testing.T) {
	assert.Equal(t, models.ColorForID("user-7"), models.ColorForID("user-7"))
	assert.NotEmpty(t, models.ColorForID(""))
}
