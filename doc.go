// Package passport resolves who a caller is and manages the credentials that
// prove it.
//
// Users and credentials:
//   - A User owns zero or more CredentialRecord rows. At most one of them uses
//     the local protocol (a bcrypt password digest); the rest link the user to
//     third party identities keyed by (provider, identifier).
//   - Resolver turns a UserRef (instance, id, public token or a dynamic value)
//     into a stored User inside the caller's transaction.
//
// Lifecycle:
//   - Service implements register, login, logout, connect, disconnect, password
//     update, signed-in reset, recovery and reset-with-recovery. Every
//     operation that writes runs inside RepositoryManager.RunInTx.
//   - Hook chains (HookChain) run after login, logout, recover and recovered.
//     Hooks of a chain run concurrently and their patches are folded in chain
//     order, so the last hook wins on conflicting keys.
//   - Events are queued while a transaction is open and handed to the
//     EventPublisher after commit. Publishing never fails an operation.
//
// Third party identities:
//   - Service.LinkExternal applies the linking decision table. External
//     identities are never merged into existing users by email.
//
// HTTP:
//   - RegisterAuthRoutes mounts the AuthController /auth routes on a
//     go-router router.Router; BearerPolicy, BasicPolicy and SessionPolicy
//     are router.MiddlewareFunc guards for application routes.
//   - Browser sessions are a signed cookie (CookieSessions).
package passport
