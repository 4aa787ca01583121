/*
Package notify turns lifecycle events into chat messages.

The Dispatcher subscribes to the event broker and renders each event into
text plus optional action buttons. The owner of the resource gets the full
message; a configured broadcast channel gets the same text without buttons.
Cluster ready events additionally deliver the kubeconfig as a document, to
the owner only.

Button callbacks use a fixed payload grammar the chat frontend dispatches
on:

	extend_3_<droplet_id>     extend_7_<droplet_id>     delete_<droplet_id>
	k8s_extend_3_<cluster_id> k8s_extend_7_<cluster_id> k8s_delete_<cluster_id>

Delivery is at-least-once from the broker down and best-effort from there:
failures are counted and logged, not retried.

TelegramMessenger is the production channel; LogMessenger stands in when no
bot token is configured.
*/
package notify
