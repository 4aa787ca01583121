/*
Package sweeper enforces lease expiry.

Every pass does four things, in order: warn owners whose instances expire
within the warning window, warn cluster owners the same way, reclaim expired
instances (snapshot first), and reclaim expired clusters.

The sweeper never trusts a listing it took earlier in the pass. Before every
destructive step it re-reads the resource from the store, so an extension
granted at any point before deletion keeps the resource alive. Reclaiming an
instance snapshots it first; since a snapshot can take minutes, the lease is
checked once more after it finishes.

Errored clusters are never reclaimed or warned about. Their teardown needs a
human.

Warnings dedup on (resource, expiry): one warning per expiry, and a new
expiry after an extension warns again.
*/
package sweeper
