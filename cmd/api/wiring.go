package main

import (
	"kidsgate.org/internal/capability"
	"kidsgate.org/internal/scope"
	"kidsgate.org/internal/secure"
)

// Capability names resolvable inside a scope.
const (
	capAuth = "auth"
	capData = "data"
	capAI   = "ai"
)

// buildRegistry wires the guarded capabilities. The shared clients are
// safe for concurrent use; the secure wrappers built here are per-scope
// because they capture the scope's own profile context.
func buildRegistry(pipeline *secure.Pipeline, auth capability.AuthClient, data capability.DataClient, ai capability.AIClient) *scope.Registry {
	sanitizer := secure.NewSanitizer()

	reg := scope.NewRegistry()
	reg.MustRegister(capAuth, func(r *scope.Resolver) (any, error) {
		return secure.NewSecureAuth(pipeline, auth, r.Context()), nil
	})
	reg.MustRegister(capData, func(r *scope.Resolver) (any, error) {
		return secure.NewSecureData(pipeline, data, r.Context()), nil
	})
	reg.MustRegister(capAI, func(r *scope.Resolver) (any, error) {
		return secure.NewSecureAI(pipeline, ai, sanitizer, r.Context()), nil
	})
	return reg
}
