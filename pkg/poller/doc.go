/*
Package poller settles provisioning clusters.

Managed clusters take minutes to come up. The poller checks every cluster in
status provisioning against the provider on a short interval and moves each
one forward exactly once: to running (publishing a ready event with the
endpoint and kubeconfig) or to errored (publishing the provider's reason).

Exactly-once comes from the store, not from the loop: the conditional status
transition reports whether this call flipped the row, and only that caller
publishes. Degraded counts as running. Errored clusters keep their provider
resources; cleanup of a failed provisioning needs an operator.
*/
package poller
