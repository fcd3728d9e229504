// Package preflight provides readiness checks for the external services
// and filesystem paths the workers depend on.
//
// These checks run in two contexts:
//   - "vidpipe serve" calls RunAll at startup and logs every failed check
//     before accepting triggers.
//   - "vidpipe status" renders the same results as a table.
//
// Checks for optional collaborators are skipped when the collaborator is nil.
package preflight
