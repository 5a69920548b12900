// Package controller translates raw pointer input into draft geometry and
// committed annotation mutations.
//
// The controller is a state machine: idle → drafting → committed or
// discarded, with an orthogonal resizing state entered from a selected
// annotation. It works in screen space while a gesture is in flight and
// converts to page space only at commit time.
package controller

import (
	"context"
	"os"
	"time"

	"github.com/pagemark/pagemark.go/pkg/connection"
	"github.com/pagemark/pagemark.go/pkg/constants"
	"github.com/pagemark/pagemark.go/pkg/geom"
	"github.com/pagemark/pagemark.go/pkg/logger"
	"github.com/pagemark/pagemark.go/pkg/models"
	"github.com/pagemark/pagemark.go/pkg/reconcile"
	"github.com/pagemark/pagemark.go/pkg/store"
)

// Phase is the controller's gesture state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDrafting
	PhaseResizing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDrafting:
		return "drafting"
	case PhaseResizing:
		return "resizing"
	}
	return "unknown"
}

// HandleGrabRadius is the screen-space pick radius for resize handles.
const HandleGrabRadius = 6.0

// Controller drives the annotation workflow for one document.
type Controller struct {
	store       *store.Store
	reconciler  *reconcile.Reconciler
	broadcaster connection.Broadcaster
	logger      logger.Logger

	documentID string
	author     string

	// Viewport, fed by the page-rendering surface.
	page int
	zoom float64

	phase        Phase
	dragStart    models.Point
	draftRect    models.Rect
	draftPath    []models.Point
	lastSample   time.Time
	pendingPoint *models.Point

	selectedID   string
	resizeHandle geom.Handle
	resizeRect   models.Rect // screen space, current during resize
	lastPointer  models.Point

	now func() time.Time
}

func New(s *store.Store, r *reconcile.Reconciler, b connection.Broadcaster, documentID, author string) *Controller {
	return &Controller{
		store:       s,
		reconciler:  r,
		broadcaster: b,
		logger:      logger.New(os.Stdout),
		documentID:  documentID,
		author:      author,
		page:        1,
		zoom:        1,
		now:         time.Now,
	}
}

// Logger replaces the controller's logger.
func (c *Controller) Logger(l logger.Logger) *Controller {
	c.logger = l
	return c
}

// Clock replaces the time source, for deterministic sampling in tests.
func (c *Controller) Clock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// SetViewport records the page and zoom reported by the rendering
// surface. Zoom must be > 0.
func (c *Controller) SetViewport(page int, zoom float64) {
	c.page = page
	c.zoom = zoom
}

// CurrentPhase returns the gesture state.
func (c *Controller) CurrentPhase() Phase {
	return c.phase
}

// SelectTool records the active tool and drops any selection when moving
// to a drawing tool.
func (c *Controller) SelectTool(tool models.Tool) {
	c.store.Apply(store.SetActiveTool{Tool: tool})
	if tool != models.ToolSelect {
		c.selectedID = ""
	}
}

// Select marks an annotation as selected; the render layer calls this when
// the user clicks a drawn annotation.
func (c *Controller) Select(id string) {
	if _, ok := c.store.Get(id); ok {
		c.selectedID = id
	}
}

// ClearSelection drops the selection.
func (c *Controller) ClearSelection() {
	c.selectedID = ""
}

// SelectedID returns the selected annotation id, empty when none.
func (c *Controller) SelectedID() string {
	return c.selectedID
}

// PointerDown starts a gesture at a screen-space position.
//
// With the select tool and a selection whose resize handle is under the
// pointer, it enters the resizing state. Any other tool starts a draft:
// ink tools collect a path, everything else drags a rectangle. Highlight
// and its siblings can also commit straight from platform text selection
// via CommitTextSelection, without a drag.
func (c *Controller) PointerDown(p models.Point) {
	if c.phase != PhaseIdle {
		return
	}

	tool := c.store.ActiveTool()

	if tool == models.ToolSelect {
		c.tryBeginResize(p)
		return
	}
	if _, ok := tool.AnnotationType(); !ok {
		return
	}

	c.phase = PhaseDrafting
	c.dragStart = p
	c.lastSample = c.now()
	if tool.IsInk() {
		c.draftPath = []models.Point{p}
		c.draftRect = models.Rect{}
	} else {
		c.draftRect = models.Rect{X: p.X, Y: p.Y}
		c.draftPath = nil
	}
}

func (c *Controller) tryBeginResize(p models.Point) {
	if c.selectedID == "" {
		return
	}
	selected, ok := c.store.Get(c.selectedID)
	if !ok || len(selected.Rects) == 0 {
		return
	}

	screenRect := geom.RectToScreenSpace(selected.Rects[0], c.zoom)
	handle, hit := geom.HitTestHandle(screenRect, p, HandleGrabRadius)
	if !hit {
		return
	}

	c.phase = PhaseResizing
	c.resizeHandle = handle
	c.resizeRect = screenRect
	c.lastPointer = p
}

// PointerMove grows the active draft or resize. Freehand points are
// sampled at a bounded rate; a faster pointer coalesces into a single
// pending point flushed by FlushFrame.
func (c *Controller) PointerMove(p models.Point) {
	switch c.phase {
	case PhaseDrafting:
		c.moveDraft(p)
	case PhaseResizing:
		c.moveResize(p)
	}
}

func (c *Controller) moveDraft(p models.Point) {
	tool := c.store.ActiveTool()
	if !tool.IsInk() {
		c.draftRect = geom.NormalizeRect(c.dragStart, p)
		return
	}

	now := c.now()
	if now.Sub(c.lastSample) < constants.DefaultSampleInterval {
		pending := p
		c.pendingPoint = &pending
		return
	}
	c.lastSample = now
	c.pendingPoint = nil
	c.draftPath = append(c.draftPath, p)
}

func (c *Controller) moveResize(p models.Point) {
	delta := models.Point{X: p.X - c.lastPointer.X, Y: p.Y - c.lastPointer.Y}
	c.lastPointer = p
	c.resizeRect = geom.ResizeBy(c.resizeRect, c.resizeHandle, delta)

	// Optimistic local update only; no network call per frame.
	c.store.Apply(store.Patch{
		ID:      c.selectedID,
		Changes: models.Patch{Rects: []models.Rect{geom.RectToPageSpace(c.resizeRect, c.zoom)}},
	})
}

// FlushFrame flushes a coalesced pending point into the draft path. The
// render loop calls it once per animation frame.
func (c *Controller) FlushFrame() {
	if c.phase != PhaseDrafting || c.pendingPoint == nil {
		return
	}
	c.draftPath = append(c.draftPath, *c.pendingPoint)
	c.pendingPoint = nil
}

// DraftRect returns the in-flight screen-space draft rect.
func (c *Controller) DraftRect() models.Rect {
	return c.draftRect
}

// DraftPath returns the in-flight screen-space draft path.
func (c *Controller) DraftPath() []models.Point {
	return c.draftPath
}

// PointerUp ends the gesture. A draft that meets the minimum-size
// threshold becomes a new annotation handed to the reconciler; a resize
// triggers a single persistence attempt with the final rect. Returns the
// mutation record, or nil when the draft was discarded.
func (c *Controller) PointerUp(ctx context.Context) *reconcile.Mutation {
	switch c.phase {
	case PhaseDrafting:
		return c.commitDraft(ctx)
	case PhaseResizing:
		return c.commitResize(ctx)
	}
	return nil
}

// PointerLeave cancels an in-flight draft: a pointer leaving the drawing
// surface before release discards rather than commits. An active resize
// is committed with the last known rect instead, matching pointer-up.
func (c *Controller) PointerLeave(ctx context.Context) *reconcile.Mutation {
	switch c.phase {
	case PhaseDrafting:
		c.resetDraft()
		return nil
	case PhaseResizing:
		return c.commitResize(ctx)
	}
	return nil
}

func (c *Controller) resetDraft() {
	c.phase = PhaseIdle
	c.draftRect = models.Rect{}
	c.draftPath = nil
	c.pendingPoint = nil
}

func (c *Controller) commitDraft(ctx context.Context) *reconcile.Mutation {
	defer c.resetDraft()

	tool := c.store.ActiveTool()
	annotationType, ok := tool.AnnotationType()
	if !ok {
		return nil
	}

	if tool.IsInk() {
		c.FlushFrame()
		if len(c.draftPath) < 2 {
			return nil
		}
		points := geom.PathToPageSpace(geom.PreparePath(c.draftPath), c.zoom)
		return c.reconciler.Create(ctx, c.newAnnotation(annotationType, nil, points))
	}

	if geom.BelowMinSize(c.draftRect) {
		return nil
	}
	rect := geom.RectToPageSpace(c.draftRect, c.zoom)
	return c.reconciler.Create(ctx, c.newAnnotation(annotationType, []models.Rect{rect}, nil))
}

func (c *Controller) commitResize(ctx context.Context) *reconcile.Mutation {
	id := c.selectedID
	finalRect := geom.RectToPageSpace(c.resizeRect, c.zoom)
	c.phase = PhaseIdle

	return c.reconciler.Update(ctx, id, models.Patch{Rects: []models.Rect{finalRect}})
}

// CommitTextSelection commits a text-anchored annotation from the
// platform's selection rectangles (screen space, one per visual line).
// There is no intermediate draft; rects with trivial size are dropped and
// the commit is skipped entirely if none survive.
func (c *Controller) CommitTextSelection(ctx context.Context, screenRects []models.Rect) *reconcile.Mutation {
	tool := c.store.ActiveTool()
	if !tool.IsTextAnchored() {
		return nil
	}
	annotationType, _ := tool.AnnotationType()

	var rects []models.Rect
	for _, r := range screenRects {
		if r.Width <= 1 || r.Height <= 1 {
			continue
		}
		rects = append(rects, geom.RectToPageSpace(r, c.zoom))
	}
	if len(rects) == 0 {
		return nil
	}

	return c.reconciler.Create(ctx, c.newAnnotation(annotationType, rects, nil))
}

// DeleteSelected removes the selected annotation optimistically; the
// network delete is deferred to the reconciler, which restores the entity
// on failure. Bound to Delete/Backspace by the embedding UI.
func (c *Controller) DeleteSelected(ctx context.Context) *reconcile.Mutation {
	if c.selectedID == "" {
		return nil
	}
	id := c.selectedID
	c.selectedID = ""
	return c.reconciler.Delete(ctx, id)
}

// CommitContent persists edited note content for the annotation the
// inline editor is keyed on.
func (c *Controller) CommitContent(ctx context.Context, id, content string) *reconcile.Mutation {
	return c.reconciler.Update(ctx, id, models.Patch{Content: &content})
}

// CommitFormField persists an edited form field descriptor.
func (c *Controller) CommitFormField(ctx context.Context, id string, field models.FormField) (*reconcile.Mutation, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}
	encoded, err := field.Encode()
	if err != nil {
		return nil, err
	}
	return c.reconciler.Update(ctx, id, models.Patch{Content: &encoded}), nil
}

// PublishCursor broadcasts the local pointer position for peer cursor
// overlays. Best effort; never persisted.
func (c *Controller) PublishCursor(p models.Point) {
	if c.broadcaster == nil {
		return
	}
	msg, err := models.NewMessage(models.EventCursorUpdated, models.CursorEvent{
		UserID: c.author,
		Page:   c.page,
		X:      geom.ToPageSpace(p.X, c.zoom),
		Y:      geom.ToPageSpace(p.Y, c.zoom),
	})
	if err != nil {
		return
	}
	if err := c.broadcaster.Publish(msg); err != nil {
		c.logger.Debug("cursor broadcast failed", "error", err)
	}
}

func (c *Controller) newAnnotation(t models.AnnotationType, rects []models.Rect, points []models.Point) models.Annotation {
	now := c.now().UTC()
	return models.Annotation{
		ID:         models.NewTempID(),
		DocumentID: c.documentID,
		Page:       c.page,
		Type:       t,
		Rects:      rects,
		Points:     points,
		Style:      defaultStyle(t),
		Author:     c.author,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// defaultStyle mirrors the tool palette defaults.
func defaultStyle(t models.AnnotationType) models.Style {
	switch t {
	case models.TypeHighlight:
		return models.Style{Color: "#facc15", Opacity: 0.35, Thickness: 2}
	case models.TypeUnderline, models.TypeStrike:
		return models.Style{Color: "#0ea5e9", Opacity: 1, Thickness: 2}
	case models.TypeDraw, models.TypeSignature:
		return models.Style{Color: "#2563eb", Opacity: 1, Thickness: 2}
	case models.TypeShape:
		return models.Style{Color: "#f43f5e", Opacity: 1, Thickness: 2, Shape: models.ShapeRect}
	default:
		return models.Style{Color: "#f43f5e", Opacity: 1, Thickness: 2}
	}
}
