// Package policy decides whether an authenticated caller may perform an
// operation.
//
// An Evaluator is compiled once from a Document by New and is then pure:
// it reads only its Input and the reference data embedded in the Document.
// Every mode denies by default.
//
// Modes:
//
//   - permissive: any caller with a subject is allowed.
//   - role-based: a rule table maps operations, optionally narrowed by
//     target and argument content, to required scopes. The built-in table
//     covers the MCP methods; a document replaces it.
//   - custom: a Cedar policy set or an expr-lang expression document.
//   - disabled: everything is allowed.
package policy
