/*
Package manager implements the lifecycle operations on leased resources.

Manager is the only component that both mutates the provider and writes the
store. The ordering discipline is fixed: on create, the provider resource
exists before its row does; on delete, the row outlives the provider
resource. A crash between the two steps therefore leaves a tracked resource,
never an untracked one.

# Operations

	CreateInstance   create droplet, wait for IP, record lease, optional DNS
	DeleteInstance   owner-checked teardown (DNS, droplet, row)
	ReclaimInstance  system teardown of an expired instance
	ExtendInstance   owner-checked lease extension

	CreateCluster    idempotent per (name, creator); records provisioning
	DeleteCluster    owner-checked teardown
	ReclaimCluster   system teardown of an expired cluster
	ExtendCluster    owner-checked lease extension

Every completed operation publishes one event on the broker; notification
delivery is somebody else's problem.
*/
package manager
