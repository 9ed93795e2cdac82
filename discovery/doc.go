// Package discovery serves OAuth metadata for a protected resource.
//
// ResourceMetadata builds the RFC 9728 protected-resource document and
// ServerMetadata the RFC 8414 authorization-server document. Both are
// computed from configuration on every call. Handlers serves them at their
// well-known paths.
package discovery
