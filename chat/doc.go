// Package chat keeps a live, ordered view of one job conversation between two
// participants.
//
// A Synchronizer moves through three states:
//   - Loading: the historical fetch is in flight. A failed fetch is recorded
//     (FetchErr) and shown as an empty history.
//   - Live: the history is in the view and a job-scoped subscription feeds newly
//     inserted messages. Each push is re-checked against the conversation pair
//     because the store filters by job only.
//   - Closed: the subscription is released; late pushes are dropped.
//
// Delivery is best-effort. A message committed after the historical fetch returns
// but before the subscription is active appears in neither and is not recovered.
// Send does not append to the view; the sender sees its own message when the store
// echoes it back through the subscription.
package chat
