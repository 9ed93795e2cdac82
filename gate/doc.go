// Package gate authorizes inbound calls in two stages.
//
// A Gate first authenticates the bearer credential with a Validator, then
// evaluates the requested operation with a policy.Evaluator. Every outcome
// is a Decision; errors and panics from either stage become denials.
//
// Decisions map to HTTP at the boundary: HTTPStatus gives 200, 401 or 403
// and Challenge builds the RFC 6750 WWW-Authenticate value. Middleware
// wires this into a net/http handler chain.
package gate
