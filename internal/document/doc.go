// Package document implements the host-side text buffer model.
//
// A Document holds the full text of one open markdown file plus the
// bookkeeping the sync protocol needs: a monotonically increasing revision
// for conflict detection, and a save baseline from which dirty state is
// derived. Replacement is always whole-document and transactional; there is
// no partial or diff-based mutation path.
package document
