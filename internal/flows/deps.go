package flows

// Deps bundles the per-operation dependency sets. The engine assembles it once
// at Build and passes the matching field to each Run function.
type Deps struct {
	Issue         IssueDeps
	Refresh       RefreshDeps
	Logout        LogoutDeps
	Introspection IntrospectionDeps
}
