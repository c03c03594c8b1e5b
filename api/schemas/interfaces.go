package schemas

// -- Engine Collaborator Interfaces --
// Small interfaces consumed by the batch and pool engines. Keeping them here
// lets every engine depend on the contract without importing a concrete
// implementation, and makes mocking trivial in tests.

// IdentityFactory produces one synthetic identity per call. Implementations
// must be safe for concurrent use; the batch engine calls Generate from many
// workers at once. An unsatisfiable filter yields an error, not a fallback
// identity.
type IdentityFactory interface {
	Generate(filter *IdentityFilter) (IdentityComponents, error)
}

// FingerprintGenerator derives an opaque fingerprint payload for an identity.
// Callers attach the payload to results and nodes without inspecting it.
type FingerprintGenerator interface {
	Generate(identity IdentityComponents) Fingerprint
}
