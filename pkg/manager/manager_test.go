package manager

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/digitalocean/godo"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ebb-cloud/ebb/pkg/compute"
	"github.com/ebb-cloud/ebb/pkg/events"
	"github.com/ebb-cloud/ebb/pkg/storage"
	"github.com/ebb-cloud/ebb/pkg/types"
)

// fakeAPI implements compute.API with overridable behavior per method.
type fakeAPI struct {
	createDroplet func(compute.DropletCreateRequest) (*compute.Droplet, error)
	deleteDroplet func(int64) error
	waitForIP     func(int64) (string, error)
	createCluster func(compute.ClusterCreateRequest) (*compute.ClusterInfo, error)
	deleteCluster func(string) error
	createRecord  func(zone, sub, ip string) (*compute.DNSRecord, error)
	deleteRecord  func(zone string, id int64) error
	sshKeys       []compute.SSHKey

	deletedDroplets []int64
	deletedClusters []string
	deletedRecords  []int64
}

func (f *fakeAPI) CreateDroplet(ctx context.Context, req compute.DropletCreateRequest) (*compute.Droplet, error) {
	if f.createDroplet != nil {
		return f.createDroplet(req)
	}
	return &compute.Droplet{ID: 100, Name: req.Name, PriceHourly: 0.02679}, nil
}

func (f *fakeAPI) GetDroplet(ctx context.Context, id int64) (*compute.Droplet, error) {
	return &compute.Droplet{ID: id}, nil
}

func (f *fakeAPI) DeleteDroplet(ctx context.Context, id int64) error {
	f.deletedDroplets = append(f.deletedDroplets, id)
	if f.deleteDroplet != nil {
		return f.deleteDroplet(id)
	}
	return nil
}

func (f *fakeAPI) WaitForIP(ctx context.Context, id int64) (string, error) {
	if f.waitForIP != nil {
		return f.waitForIP(id)
	}
	return "203.0.113.20", nil
}

func (f *fakeAPI) ListSSHKeys(ctx context.Context) ([]compute.SSHKey, error) {
	return f.sshKeys, nil
}

func (f *fakeAPI) ListDistributionImages(ctx context.Context) ([]compute.Image, error) {
	return nil, nil
}

func (f *fakeAPI) ListSizes(ctx context.Context) ([]compute.Size, error) { return nil, nil }
func (f *fakeAPI) ListDomains(ctx context.Context) ([]string, error)     { return nil, nil }

func (f *fakeAPI) CreateDNSRecord(ctx context.Context, zone, sub, ip string) (*compute.DNSRecord, error) {
	if f.createRecord != nil {
		return f.createRecord(zone, sub, ip)
	}
	return &compute.DNSRecord{ID: 9000, FQDN: sub + "." + zone, Zone: zone}, nil
}

func (f *fakeAPI) DeleteDNSRecord(ctx context.Context, zone string, id int64) error {
	f.deletedRecords = append(f.deletedRecords, id)
	if f.deleteRecord != nil {
		return f.deleteRecord(zone, id)
	}
	return nil
}

func (f *fakeAPI) SnapshotDroplet(ctx context.Context, id int64, name string) (int64, error) {
	return 0, nil
}

func (f *fakeAPI) ActionStatus(ctx context.Context, id int64) (compute.ActionState, error) {
	return compute.ActionCompleted, nil
}

func (f *fakeAPI) CreateCluster(ctx context.Context, req compute.ClusterCreateRequest) (*compute.ClusterInfo, error) {
	if f.createCluster != nil {
		return f.createCluster(req)
	}
	return &compute.ClusterInfo{ID: "c-100", Name: req.Name, Region: "fra1", Version: req.Version, State: "provisioning"}, nil
}

func (f *fakeAPI) GetCluster(ctx context.Context, id string) (*compute.ClusterInfo, error) {
	return &compute.ClusterInfo{ID: id}, nil
}

func (f *fakeAPI) DeleteCluster(ctx context.Context, id string) error {
	f.deletedClusters = append(f.deletedClusters, id)
	if f.deleteCluster != nil {
		return f.deleteCluster(id)
	}
	return nil
}

func (f *fakeAPI) GetClusterOptions(ctx context.Context) (*compute.ClusterOptions, error) {
	return &compute.ClusterOptions{Versions: []string{"1.31.1-do.0"}}, nil
}

func (f *fakeAPI) GetKubeconfig(ctx context.Context, id string) ([]byte, error) {
	return []byte("apiVersion: v1\n"), nil
}

// recordingPublisher captures published events in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *recordingPublisher) Publish(event *events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]events.Kind, len(p.events))
	for i, e := range p.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func (p *recordingPublisher) last() *events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

func newTestManager(t *testing.T, api compute.API) (*Manager, storage.Store, *recordingPublisher) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	store, err := storage.NewWithDB(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pub := &recordingPublisher{}
	return New(store, api, pub), store, pub
}

func notFoundErr() error {
	return &godo.ErrorResponse{Response: &http.Response{StatusCode: http.StatusNotFound}}
}

func TestCreateInstance(t *testing.T) {
	api := &fakeAPI{}
	m, store, pub := newTestManager(t, api)

	inst, err := m.CreateInstance(context.Background(), CreateInstanceRequest{
		Name:            "demo-box",
		DropletType:     "s-2vcpu-2gb",
		ImageSlug:       "ubuntu-24-04-x64",
		SSHKeyID:        42,
		CreatorID:       1001,
		CreatorUsername: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), inst.DropletID)
	assert.Equal(t, "203.0.113.20", inst.IPAddress)
	require.NotNil(t, inst.PriceHourly)
	assert.InDelta(t, 0.02679, *inst.PriceHourly, 1e-9)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, DefaultLeaseDays), inst.ExpirationDate, 5*time.Second)

	stored, err := store.GetInstance(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "demo-box", stored.Name)

	keys, err := store.PreferredSSHKeys(context.Background(), 1001)
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, keys)

	require.Equal(t, []events.Kind{events.KindCreated}, pub.kinds())
	assert.Equal(t, int64(1001), pub.last().ActorID)
}

func TestCreateInstanceRejectsBadNames(t *testing.T) {
	m, _, pub := newTestManager(t, &fakeAPI{})

	for _, name := range []string{"", "-leading", "trailing-", "has space", "a"} {
		_, err := m.CreateInstance(context.Background(), CreateInstanceRequest{
			Name: name, DropletType: "s-2vcpu-2gb", CreatorID: 1,
		})
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
	assert.Empty(t, pub.kinds(), "nothing provisioned, nothing announced")
}

func TestCreateInstanceWithDNS(t *testing.T) {
	api := &fakeAPI{}
	m, store, _ := newTestManager(t, api)

	inst, err := m.CreateInstance(context.Background(), CreateInstanceRequest{
		Name: "web-box", DropletType: "s-2vcpu-2gb", SSHKeyID: 42, CreatorID: 1001,
		Subdomain: "web", Zone: "example.com",
	})
	require.NoError(t, err)
	require.NotNil(t, inst.DomainName)
	assert.Equal(t, "web.example.com", *inst.DomainName)

	stored, err := store.GetInstance(context.Background(), inst.DropletID)
	require.NoError(t, err)
	require.NotNil(t, stored.DNSRecordID)
	assert.Equal(t, int64(9000), *stored.DNSRecordID)
}

func TestCreateInstanceDNSFailureIsNotFatal(t *testing.T) {
	api := &fakeAPI{
		createRecord: func(zone, sub, ip string) (*compute.DNSRecord, error) {
			return nil, errors.New("zone is busy")
		},
	}
	m, store, pub := newTestManager(t, api)

	inst, err := m.CreateInstance(context.Background(), CreateInstanceRequest{
		Name: "web-box", DropletType: "s-2vcpu-2gb", SSHKeyID: 42, CreatorID: 1001,
		Subdomain: "web", Zone: "example.com",
	})
	require.NoError(t, err)
	assert.Nil(t, inst.DomainName)

	stored, err := store.GetInstance(context.Background(), inst.DropletID)
	require.NoError(t, err)
	assert.Nil(t, stored.DNSRecordID)
	assert.Equal(t, []events.Kind{events.KindCreated}, pub.kinds())
}

func TestDeleteInstanceOwnership(t *testing.T) {
	api := &fakeAPI{}
	m, store, pub := newTestManager(t, api)

	inst, err := m.CreateInstance(context.Background(), CreateInstanceRequest{
		Name: "mine", DropletType: "s-2vcpu-2gb", SSHKeyID: 42, CreatorID: 1001,
	})
	require.NoError(t, err)

	err = m.DeleteInstance(context.Background(), inst.DropletID, 2002)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.Empty(t, api.deletedDroplets)

	require.NoError(t, m.DeleteInstance(context.Background(), inst.DropletID, 1001))
	assert.Equal(t, []int64{inst.DropletID}, api.deletedDroplets)

	_, err = store.GetInstance(context.Background(), inst.DropletID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, []events.Kind{events.KindCreated, events.KindDeleted}, pub.kinds())
}

func TestDeleteInstanceCleansUpDNS(t *testing.T) {
	api := &fakeAPI{}
	m, _, _ := newTestManager(t, api)

	inst, err := m.CreateInstance(context.Background(), CreateInstanceRequest{
		Name: "web-box", DropletType: "s-2vcpu-2gb", SSHKeyID: 42, CreatorID: 1001,
		Subdomain: "web", Zone: "example.com",
	})
	require.NoError(t, err)

	require.NoError(t, m.DeleteInstance(context.Background(), inst.DropletID, 1001))
	assert.Equal(t, []int64{9000}, api.deletedRecords)
}

func TestDeleteInstanceToleratesMissingDroplet(t *testing.T) {
	api := &fakeAPI{deleteDroplet: func(int64) error { return notFoundErr() }}
	m, store, _ := newTestManager(t, api)

	inst, err := m.CreateInstance(context.Background(), CreateInstanceRequest{
		Name: "gone", DropletType: "s-2vcpu-2gb", SSHKeyID: 42, CreatorID: 1001,
	})
	require.NoError(t, err)

	require.NoError(t, m.DeleteInstance(context.Background(), inst.DropletID, 1001))
	_, err = store.GetInstance(context.Background(), inst.DropletID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReclaimInstance(t *testing.T) {
	api := &fakeAPI{}
	m, _, pub := newTestManager(t, api)

	inst, err := m.CreateInstance(context.Background(), CreateInstanceRequest{
		Name: "expired", DropletType: "s-2vcpu-2gb", SSHKeyID: 42, CreatorID: 1001,
	})
	require.NoError(t, err)

	require.NoError(t, m.ReclaimInstance(context.Background(), inst.DropletID, "lease expired"))
	assert.Equal(t, []events.Kind{events.KindCreated, events.KindAutoDeleted}, pub.kinds())
	assert.Equal(t, "lease expired", pub.last().Note)
	assert.Zero(t, pub.last().ActorID)

	// A second reclaim of the same id finds nothing and stays quiet.
	require.NoError(t, m.ReclaimInstance(context.Background(), inst.DropletID, "lease expired"))
	assert.Len(t, pub.kinds(), 2)
}

func TestExtendInstance(t *testing.T) {
	m, _, pub := newTestManager(t, &fakeAPI{})

	inst, err := m.CreateInstance(context.Background(), CreateInstanceRequest{
		Name: "short", DropletType: "s-2vcpu-2gb", SSHKeyID: 42, CreatorID: 1001,
	})
	require.NoError(t, err)

	_, err = m.ExtendInstance(context.Background(), inst.DropletID, 2002, 3)
	assert.ErrorIs(t, err, ErrNotOwner)

	newExp, err := m.ExtendInstance(context.Background(), inst.DropletID, 1001, 3)
	require.NoError(t, err)
	assert.WithinDuration(t, inst.ExpirationDate.AddDate(0, 0, 3), newExp, time.Second)

	last := pub.last()
	assert.Equal(t, events.KindExtended, last.Kind)
	assert.Equal(t, 3, last.ExtendedDays)
	assert.WithinDuration(t, newExp, last.NewExpiry, time.Second)
}

func TestCreateClusterIdempotent(t *testing.T) {
	creates := 0
	api := &fakeAPI{
		createCluster: func(req compute.ClusterCreateRequest) (*compute.ClusterInfo, error) {
			creates++
			return &compute.ClusterInfo{ID: "c-1", Name: req.Name, Region: "fra1", Version: req.Version}, nil
		},
	}
	m, _, pub := newTestManager(t, api)

	req := CreateClusterRequest{
		Name: "kc", Version: "1.31.1-do.0", NodeSize: "s-2vcpu-4gb", NodeCount: 2, CreatorID: 1001,
	}
	first, err := m.CreateCluster(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.ClusterProvisioning, first.Status)

	second, err := m.CreateCluster(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ClusterID, second.ClusterID)
	assert.Equal(t, 1, creates, "repeat request must not provision twice")
	assert.Equal(t, []events.Kind{events.KindCreated}, pub.kinds())

	// Same name, different creator: a separate cluster.
	other := req
	other.CreatorID = 2002
	api.createCluster = func(req compute.ClusterCreateRequest) (*compute.ClusterInfo, error) {
		creates++
		return &compute.ClusterInfo{ID: "c-2", Name: req.Name, Region: "fra1"}, nil
	}
	third, err := m.CreateCluster(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, "c-2", third.ClusterID)
}

func TestDeleteAndReclaimCluster(t *testing.T) {
	api := &fakeAPI{}
	m, store, pub := newTestManager(t, api)

	cl, err := m.CreateCluster(context.Background(), CreateClusterRequest{
		Name: "kc", Version: "1.31.1-do.0", NodeSize: "s-2vcpu-4gb", NodeCount: 2, CreatorID: 1001,
	})
	require.NoError(t, err)

	err = m.DeleteCluster(context.Background(), cl.ClusterID, 2002)
	assert.ErrorIs(t, err, ErrNotOwner)

	require.NoError(t, m.ReclaimCluster(context.Background(), cl.ClusterID, "lease expired"))
	assert.Equal(t, []string{cl.ClusterID}, api.deletedClusters)
	_, err = store.GetCluster(context.Background(), cl.ClusterID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, []events.Kind{events.KindCreated, events.KindAutoDeleted}, pub.kinds())
}

func TestSSHKeysForUser(t *testing.T) {
	api := &fakeAPI{
		sshKeys: []compute.SSHKey{
			{ID: 1, Name: "laptop"},
			{ID: 2, Name: "desktop"},
			{ID: 3, Name: "ci"},
		},
	}
	m, store, _ := newTestManager(t, api)

	require.NoError(t, store.RecordSSHKeyUsage(context.Background(), 1001, []int64{3}))
	require.NoError(t, store.RecordSSHKeyUsage(context.Background(), 1001, []int64{3, 2}))

	keys, err := m.SSHKeysForUser(context.Background(), 1001)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, int64(3), keys[0].ID, "most used key first")
	assert.Equal(t, int64(2), keys[1].ID)
	assert.Equal(t, int64(1), keys[2].ID, "unused account keys follow")
}
