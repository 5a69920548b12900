// Package pagemarkd is a reference collaboration backend for the
// [github.com/pagemark/pagemark.go] client.
//
// It serves the annotation REST API (list, create, revision-checked patch,
// soft delete) and the per-document WebSocket endpoint (group broadcast,
// presence tracking, document.opened snapshot on connect), backed by an
// embedded SQLite database.
//
// It exists so the client can be exercised against a real backend without
// standing up the full production service; it is not hardened for
// production use.
package pagemarkd
