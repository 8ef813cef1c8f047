// Package auth is the identity and access core of the health app backend:
// credential verification, session tokens, role-based authorization and
// the doctor activation workflow.
//
// Doctor activation:
//   - A doctor registers through RegisterAccountHandler. The account is
//     stored un-activated and ActivationWorkflow.CreateActivationRequest
//     records one pending ledger entry, keyed by the doctor id.
//   - ActivationStateMachine.Decide is a pure function that turns
//     (account, request, action, admin) into the new records and the
//     notification to send. ActivationWorkflow persists the account first
//     and the ledger second. When the second write fails the caller gets
//     an error matching IsPartialActivationFailure and ReconcileActivations
//     can repair the ledger later. An activated doctor with a rejected
//     entry is reported as a conflict, never repaired.
//   - Stores that implement ActivationClaimer and PendingResolver get
//     compare-and-swap semantics, so concurrent decisions on the same
//     doctor yield exactly one success and ErrAlreadyProcessed otherwise.
//
// Authorization:
//   - Gate evaluates a Policy (AnyOf/AllOf role requirement plus an
//     optional activation check) against validated claims. A doctor that
//     is not yet activated gets ErrAccountNotActivated, never
//     ErrAuthorizationDenied.
//
// Activity sinks:
//   - ActivitySink receives login, registration and activation events.
//     Sinks run best-effort (errors are logged).
package auth
