package compute

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/digitalocean/godo"

	"github.com/ebb-cloud/ebb/pkg/cache"
)

// CreatorTag marks every provider resource this service creates, so orphans
// are findable in the provider console even if the database is lost.
const CreatorTag = "createdby:ebb"

const (
	ipPollAttempts = 10
	ipPollInterval = 5 * time.Second
)

// Droplet is the provider-neutral view of a virtual machine.
type Droplet struct {
	ID          int64
	Name        string
	IPAddress   string
	Status      string
	PriceHourly float64
}

// SSHKey is an account SSH key.
type SSHKey struct {
	ID          int64
	Name        string
	Fingerprint string
}

// Image is a base OS image.
type Image struct {
	Slug         string
	Name         string
	Distribution string
}

// Size is an offered droplet size with its pricing.
type Size struct {
	Slug        string
	Memory      int
	VCPUs       int
	Disk        int
	PriceHourly float64
	Available   bool
}

// DNSRecord is an A record created for an instance.
type DNSRecord struct {
	ID   int64
	FQDN string
	Zone string
}

// ActionState is the progress of a long-running provider action.
type ActionState string

const (
	ActionInProgress ActionState = "in-progress"
	ActionCompleted  ActionState = "completed"
	ActionErrored    ActionState = "errored"
)

// ClusterInfo is the provider-neutral view of a managed Kubernetes cluster.
type ClusterInfo struct {
	ID       string
	Name     string
	Region   string
	Version  string
	Endpoint string
	State    string
	Message  string
}

// NodeSize is a cluster node size offering with its droplet price.
type NodeSize struct {
	Slug        string
	PriceHourly float64
}

// ClusterOptions lists what the provider currently offers for new clusters.
type ClusterOptions struct {
	Versions  []string
	NodeSizes []NodeSize
}

// DropletCreateRequest describes a droplet to create.
type DropletCreateRequest struct {
	Name      string
	Size      string
	ImageSlug string
	SSHKeyID  int64
	Owner     string
}

// ClusterCreateRequest describes a cluster to create.
type ClusterCreateRequest struct {
	Name      string
	Version   string
	NodeSize  string
	NodeCount int
	HA        bool
	Owner     string
}

// API is the provider surface the rest of the service consumes. Tests
// substitute fakes; production wires the godo-backed Client.
type API interface {
	CreateDroplet(ctx context.Context, req DropletCreateRequest) (*Droplet, error)
	GetDroplet(ctx context.Context, id int64) (*Droplet, error)
	DeleteDroplet(ctx context.Context, id int64) error
	WaitForIP(ctx context.Context, id int64) (string, error)

	ListSSHKeys(ctx context.Context) ([]SSHKey, error)
	ListDistributionImages(ctx context.Context) ([]Image, error)
	ListSizes(ctx context.Context) ([]Size, error)

	ListDomains(ctx context.Context) ([]string, error)
	CreateDNSRecord(ctx context.Context, zone, subdomain, ip string) (*DNSRecord, error)
	DeleteDNSRecord(ctx context.Context, zone string, recordID int64) error

	SnapshotDroplet(ctx context.Context, id int64, name string) (int64, error)
	ActionStatus(ctx context.Context, actionID int64) (ActionState, error)

	CreateCluster(ctx context.Context, req ClusterCreateRequest) (*ClusterInfo, error)
	GetCluster(ctx context.Context, id string) (*ClusterInfo, error)
	DeleteCluster(ctx context.Context, id string) error
	GetClusterOptions(ctx context.Context) (*ClusterOptions, error)
	GetKubeconfig(ctx context.Context, id string) ([]byte, error)
}

// Client implements API against DigitalOcean. Catalog lookups (sizes,
// images, domains, cluster options) go through an hourly cache since they
// change rarely but get read on every create dialog.
type Client struct {
	do     *godo.Client
	region string

	sizes    *cache.TTL[[]Size]
	images   *cache.TTL[[]Image]
	domains  *cache.TTL[[]string]
	kubeOpts *cache.TTL[*ClusterOptions]

	// sleep is swapped out in tests to observe retry and poll delays.
	sleep func(ctx context.Context, d time.Duration) error
}

var _ API = (*Client)(nil)

// NewClient builds a provider client from an API token.
func NewClient(token, region string) *Client {
	return newClient(godo.NewFromToken(token), region)
}

// NewClientWith wraps an existing godo client, used by tests to point at a
// local HTTP server.
func NewClientWith(do *godo.Client, region string) *Client {
	return newClient(do, region)
}

func newClient(do *godo.Client, region string) *Client {
	return &Client{
		do:       do,
		region:   region,
		sizes:    cache.New[[]Size](cache.DefaultTTL),
		images:   cache.New[[]Image](cache.DefaultTTL),
		domains:  cache.New[[]string](cache.DefaultTTL),
		kubeOpts: cache.New[*ClusterOptions](cache.DefaultTTL),
		sleep:    sleepContext,
	}
}

func ownerTag(owner string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == ':':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, owner)
	return "owner:" + sanitized
}

func (c *Client) CreateDroplet(ctx context.Context, req DropletCreateRequest) (*Droplet, error) {
	createReq := &godo.DropletCreateRequest{
		Name:   req.Name,
		Region: c.region,
		Size:   req.Size,
		Image:  godo.DropletCreateImage{Slug: req.ImageSlug},
		SSHKeys: []godo.DropletCreateSSHKey{
			{ID: int(req.SSHKeyID)},
		},
		Tags: []string{CreatorTag, ownerTag(req.Owner)},
	}
	d, err := withRetry(ctx, c, "droplet.create", func() (*godo.Droplet, *godo.Response, error) {
		return c.do.Droplets.Create(ctx, createReq)
	})
	if err != nil {
		return nil, err
	}
	return fromGodoDroplet(d), nil
}

func (c *Client) GetDroplet(ctx context.Context, id int64) (*Droplet, error) {
	d, err := withRetry(ctx, c, "droplet.get", func() (*godo.Droplet, *godo.Response, error) {
		return c.do.Droplets.Get(ctx, int(id))
	})
	if err != nil {
		return nil, err
	}
	return fromGodoDroplet(d), nil
}

func (c *Client) DeleteDroplet(ctx context.Context, id int64) error {
	_, err := withRetry(ctx, c, "droplet.delete", func() (struct{}, *godo.Response, error) {
		resp, err := c.do.Droplets.Delete(ctx, int(id))
		return struct{}{}, resp, err
	})
	return err
}

// WaitForIP polls the droplet until the provider assigns a public IPv4
// address. Droplets usually get one within the first minute.
func (c *Client) WaitForIP(ctx context.Context, id int64) (string, error) {
	for attempt := 0; attempt < ipPollAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, ipPollInterval); err != nil {
				return "", err
			}
		}
		d, err := c.GetDroplet(ctx, id)
		if err != nil {
			return "", err
		}
		if d.IPAddress != "" {
			return d.IPAddress, nil
		}
	}
	return "", fmt.Errorf("droplet %d has no public IP after %d polls", id, ipPollAttempts)
}

// ListSSHKeys returns every SSH key on the account, following pagination.
func (c *Client) ListSSHKeys(ctx context.Context) ([]SSHKey, error) {
	var keys []SSHKey
	opt := &godo.ListOptions{Page: 1, PerPage: 200}
	for {
		page, resp, err := listKeysPage(ctx, c, opt)
		if err != nil {
			return nil, err
		}
		for _, k := range page {
			keys = append(keys, SSHKey{ID: int64(k.ID), Name: k.Name, Fingerprint: k.Fingerprint})
		}
		if resp.Links == nil || resp.Links.IsLastPage() {
			return keys, nil
		}
		current, err := resp.Links.CurrentPage()
		if err != nil {
			return nil, err
		}
		opt.Page = current + 1
	}
}

func listKeysPage(ctx context.Context, c *Client, opt *godo.ListOptions) ([]godo.Key, *godo.Response, error) {
	type pageResult struct {
		keys []godo.Key
		resp *godo.Response
	}
	result, err := withRetry(ctx, c, "keys.list", func() (pageResult, *godo.Response, error) {
		keys, resp, err := c.do.Keys.List(ctx, opt)
		return pageResult{keys: keys, resp: resp}, resp, err
	})
	return result.keys, result.resp, err
}

func (c *Client) ListDistributionImages(ctx context.Context) ([]Image, error) {
	return c.images.Get("images", func() ([]Image, error) {
		list, err := withRetry(ctx, c, "images.list", func() ([]godo.Image, *godo.Response, error) {
			return c.do.Images.ListDistribution(ctx, &godo.ListOptions{PerPage: 200})
		})
		if err != nil {
			return nil, err
		}
		images := make([]Image, 0, len(list))
		for _, img := range list {
			if img.Slug == "" {
				continue
			}
			images = append(images, Image{Slug: img.Slug, Name: img.Name, Distribution: img.Distribution})
		}
		return images, nil
	})
}

func (c *Client) ListSizes(ctx context.Context) ([]Size, error) {
	return c.sizes.Get("sizes", func() ([]Size, error) {
		list, err := withRetry(ctx, c, "sizes.list", func() ([]godo.Size, *godo.Response, error) {
			return c.do.Sizes.List(ctx, &godo.ListOptions{PerPage: 200})
		})
		if err != nil {
			return nil, err
		}
		sizes := make([]Size, 0, len(list))
		for _, s := range list {
			if !regionOffers(s.Regions, c.region) {
				continue
			}
			sizes = append(sizes, Size{
				Slug:        s.Slug,
				Memory:      s.Memory,
				VCPUs:       s.Vcpus,
				Disk:        s.Disk,
				PriceHourly: s.PriceHourly,
				Available:   s.Available,
			})
		}
		sort.Slice(sizes, func(i, j int) bool { return sizes[i].PriceHourly < sizes[j].PriceHourly })
		return sizes, nil
	})
}

func regionOffers(regions []string, region string) bool {
	for _, r := range regions {
		if r == region {
			return true
		}
	}
	return false
}

func (c *Client) ListDomains(ctx context.Context) ([]string, error) {
	return c.domains.Get("domains", func() ([]string, error) {
		list, err := withRetry(ctx, c, "domains.list", func() ([]godo.Domain, *godo.Response, error) {
			return c.do.Domains.List(ctx, &godo.ListOptions{PerPage: 200})
		})
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(list))
		for _, d := range list {
			names = append(names, d.Name)
		}
		return names, nil
	})
}

func (c *Client) CreateDNSRecord(ctx context.Context, zone, subdomain, ip string) (*DNSRecord, error) {
	editReq := &godo.DomainRecordEditRequest{
		Type: "A",
		Name: subdomain,
		Data: ip,
		TTL:  300,
	}
	rec, err := withRetry(ctx, c, "dns.create", func() (*godo.DomainRecord, *godo.Response, error) {
		return c.do.Domains.CreateRecord(ctx, zone, editReq)
	})
	if err != nil {
		return nil, err
	}
	return &DNSRecord{
		ID:   int64(rec.ID),
		FQDN: subdomain + "." + zone,
		Zone: zone,
	}, nil
}

func (c *Client) DeleteDNSRecord(ctx context.Context, zone string, recordID int64) error {
	_, err := withRetry(ctx, c, "dns.delete", func() (struct{}, *godo.Response, error) {
		resp, err := c.do.Domains.DeleteRecord(ctx, zone, int(recordID))
		return struct{}{}, resp, err
	})
	return err
}

// SnapshotDroplet starts a snapshot and returns the provider action id to
// poll for completion.
func (c *Client) SnapshotDroplet(ctx context.Context, id int64, name string) (int64, error) {
	action, err := withRetry(ctx, c, "droplet.snapshot", func() (*godo.Action, *godo.Response, error) {
		return c.do.DropletActions.Snapshot(ctx, int(id), name)
	})
	if err != nil {
		return 0, err
	}
	return int64(action.ID), nil
}

func (c *Client) ActionStatus(ctx context.Context, actionID int64) (ActionState, error) {
	action, err := withRetry(ctx, c, "action.get", func() (*godo.Action, *godo.Response, error) {
		return c.do.Actions.Get(ctx, int(actionID))
	})
	if err != nil {
		return "", err
	}
	switch action.Status {
	case godo.ActionCompleted:
		return ActionCompleted, nil
	case godo.ActionInProgress:
		return ActionInProgress, nil
	default:
		return ActionErrored, nil
	}
}

func (c *Client) CreateCluster(ctx context.Context, req ClusterCreateRequest) (*ClusterInfo, error) {
	createReq := &godo.KubernetesClusterCreateRequest{
		Name:        req.Name,
		RegionSlug:  c.region,
		VersionSlug: req.Version,
		HA:          req.HA,
		Tags:        []string{CreatorTag, ownerTag(req.Owner)},
		NodePools: []*godo.KubernetesNodePoolCreateRequest{
			{
				Name:  req.Name + "-pool",
				Size:  req.NodeSize,
				Count: req.NodeCount,
			},
		},
	}
	cl, err := withRetry(ctx, c, "cluster.create", func() (*godo.KubernetesCluster, *godo.Response, error) {
		return c.do.Kubernetes.Create(ctx, createReq)
	})
	if err != nil {
		return nil, err
	}
	return fromGodoCluster(cl), nil
}

func (c *Client) GetCluster(ctx context.Context, id string) (*ClusterInfo, error) {
	cl, err := withRetry(ctx, c, "cluster.get", func() (*godo.KubernetesCluster, *godo.Response, error) {
		return c.do.Kubernetes.Get(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return fromGodoCluster(cl), nil
}

func (c *Client) DeleteCluster(ctx context.Context, id string) error {
	_, err := withRetry(ctx, c, "cluster.delete", func() (struct{}, *godo.Response, error) {
		resp, err := c.do.Kubernetes.Delete(ctx, id)
		return struct{}{}, resp, err
	})
	return err
}

func (c *Client) GetClusterOptions(ctx context.Context) (*ClusterOptions, error) {
	return c.kubeOpts.Get("options", func() (*ClusterOptions, error) {
		opts, err := withRetry(ctx, c, "cluster.options", func() (*godo.KubernetesOptions, *godo.Response, error) {
			return c.do.Kubernetes.GetOptions(ctx)
		})
		if err != nil {
			return nil, err
		}
		// Node sizes are droplet sizes; the options endpoint does not
		// carry prices, the size catalog does.
		prices := map[string]float64{}
		if sizes, err := c.ListSizes(ctx); err == nil {
			for _, s := range sizes {
				prices[s.Slug] = s.PriceHourly
			}
		}

		out := &ClusterOptions{}
		for _, v := range opts.Versions {
			out.Versions = append(out.Versions, v.Slug)
		}
		for _, s := range opts.Sizes {
			out.NodeSizes = append(out.NodeSizes, NodeSize{
				Slug:        s.Slug,
				PriceHourly: prices[s.Slug],
			})
		}
		return out, nil
	})
}

func (c *Client) GetKubeconfig(ctx context.Context, id string) ([]byte, error) {
	cfg, err := withRetry(ctx, c, "cluster.kubeconfig", func() (*godo.KubernetesClusterConfig, *godo.Response, error) {
		return c.do.Kubernetes.GetKubeConfig(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return cfg.KubeconfigYAML, nil
}

func fromGodoDroplet(d *godo.Droplet) *Droplet {
	ip, _ := d.PublicIPv4()
	out := &Droplet{
		ID:        int64(d.ID),
		Name:      d.Name,
		IPAddress: ip,
		Status:    d.Status,
	}
	if d.Size != nil {
		out.PriceHourly = d.Size.PriceHourly
	}
	return out
}

func fromGodoCluster(cl *godo.KubernetesCluster) *ClusterInfo {
	out := &ClusterInfo{
		ID:       cl.ID,
		Name:     cl.Name,
		Region:   cl.RegionSlug,
		Version:  cl.VersionSlug,
		Endpoint: cl.Endpoint,
	}
	if cl.Status != nil {
		out.State = string(cl.Status.State)
		out.Message = cl.Status.Message
	}
	return out
}
