// Package assets exposes the read-only view of the frontend build root. It
// maps URL paths onto regular files under the root, refuses anything that
// would resolve outside of it (dot-dot segments, symlinks pointing elsewhere),
// and hands back open file handles together with size, modtime and content
// type so the server can stream them. The package never writes to the root.
package assets
