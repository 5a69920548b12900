// The [pagemark] package is a Go client for real-time collaborative PDF
// annotation.
//
// # Sessions
//
// A [Session] represents one open document version. It wires together the
// normalized annotation [github.com/pagemark/pagemark.go/pkg/store], the
// WebSocket sync channel and HTTP persistence client from
// [github.com/pagemark/pagemark.go/pkg/connection], the optimistic
// [github.com/pagemark/pagemark.go/pkg/reconcile] protocol, and the
// pointer-driven [github.com/pagemark/pagemark.go/pkg/controller].
//
// Use [Open] to load the initial annotation list and connect the channel,
// and [Session.Close] to tear everything down when the user navigates away.
//
// # Geometry
//
// All persisted coordinates are page space: screen pixels divided by the
// current zoom. The [github.com/pagemark/pagemark.go/pkg/geom] package
// holds the conversions, path smoothing, and resize-handle math.
//
// # Reference server
//
// [github.com/pagemark/pagemark.go/contrib/pagemarkd] is a reference
// collaboration backend speaking the same REST and WebSocket contract,
// backed by SQLite.
package pagemark
