// Package runtime is the model registry and runner: it owns the
// build-time assembly of every Pure/Effectful model into one registry,
// the per-instance substate aggregate (RootState) that each model's
// StateHaver interface projects against, and the round-robin main loop
// that drives one or many instances to completion, optionally recording
// or replaying their action stream.
package runtime
