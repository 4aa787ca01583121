package types

import (
	"regexp"
	"strconv"
	"time"
)

// Instance is a leased virtual machine (a DigitalOcean droplet) tracked by
// the lifecycle manager. The provider-assigned droplet id is the primary key;
// a row exists exactly as long as the provider resource does and is removed
// only after the provider confirms deletion.
type Instance struct {
	DropletID       int64      `gorm:"column:droplet_id;primaryKey"`
	Name            string     `gorm:"column:name;not null"`
	IPAddress       string     `gorm:"column:ip_address"`
	DropletType     string     `gorm:"column:droplet_type;not null"`
	ExpirationDate  time.Time  `gorm:"column:expiration_date;not null;index"`
	SSHKeyID        int64      `gorm:"column:ssh_key_id"`
	CreatorID       int64      `gorm:"column:creator_id;not null;index"`
	CreatorUsername *string    `gorm:"column:creator_username"`
	DomainName      *string    `gorm:"column:domain_name"`
	DNSRecordID     *int64     `gorm:"column:dns_record_id"`
	DNSZone         *string    `gorm:"column:dns_zone"`
	CreatedAt       *time.Time `gorm:"column:created_at"`
	PriceHourly     *float64   `gorm:"column:price_hourly"`
}

func (Instance) TableName() string { return "instances" }

// Owner returns the creator's display name, falling back to the numeric id.
func (i *Instance) Owner() string {
	if i.CreatorUsername != nil && *i.CreatorUsername != "" {
		return *i.CreatorUsername
	}
	return formatID(i.CreatorID)
}

// ClusterStatus is the lifecycle state of a managed Kubernetes cluster.
// Transitions only move forward: provisioning → running, or
// provisioning → errored (terminal).
type ClusterStatus string

const (
	ClusterProvisioning ClusterStatus = "provisioning"
	ClusterRunning      ClusterStatus = "running"
	ClusterErrored      ClusterStatus = "errored"
)

// CanTransition reports whether moving from s to next is a legal forward
// transition.
func (s ClusterStatus) CanTransition(next ClusterStatus) bool {
	if s != ClusterProvisioning {
		return false
	}
	return next == ClusterRunning || next == ClusterErrored
}

// Cluster is a leased managed Kubernetes cluster (DOKS). Endpoint stays empty
// until the provider reports the cluster running.
type Cluster struct {
	ClusterID       string        `gorm:"column:cluster_id;primaryKey"`
	ClusterName     string        `gorm:"column:cluster_name;not null"`
	Region          string        `gorm:"column:region;not null"`
	Version         string        `gorm:"column:version"`
	NodeSize        string        `gorm:"column:node_size"`
	NodeCount       int           `gorm:"column:node_count"`
	Status          ClusterStatus `gorm:"column:status;not null;index"`
	Endpoint        string        `gorm:"column:endpoint"`
	CreatorID       int64         `gorm:"column:creator_id;not null;index"`
	CreatorUsername *string       `gorm:"column:creator_username"`
	ExpirationDate  time.Time     `gorm:"column:expiration_date;not null;index"`
	CreatedAt       *time.Time    `gorm:"column:created_at"`
	PriceHourly     *float64      `gorm:"column:price_hourly"`
	HA              bool          `gorm:"column:ha"`
}

func (Cluster) TableName() string { return "k8s_clusters" }

// Owner returns the creator's display name, falling back to the numeric id.
func (c *Cluster) Owner() string {
	if c.CreatorUsername != nil && *c.CreatorUsername != "" {
		return *c.CreatorUsername
	}
	return formatID(c.CreatorID)
}

// SSHKeyUsage counts how often a user picked an SSH key at creation time.
// Used only to rank key suggestions; eventual consistency is fine.
type SSHKeyUsage struct {
	UserID int64 `gorm:"column:user_id;primaryKey"`
	KeyID  int64 `gorm:"column:key_id;primaryKey"`
	Count  int   `gorm:"column:count;not null"`
}

func (SSHKeyUsage) TableName() string { return "ssh_key_usage" }

// HoursPerMonth converts hourly provider pricing to the monthly figure shown
// in notifications.
const HoursPerMonth = 720

// MonthlyPrice derives a display price from the hourly rate captured at
// creation.
func MonthlyPrice(hourly float64) float64 {
	return hourly * HoursPerMonth
}

// DropletTypeLabels maps the offered size slugs to human labels.
var DropletTypeLabels = map[string]string{
	"s-2vcpu-2gb":  "2GB-2vCPU-60GB",
	"s-2vcpu-4gb":  "4GB-2vCPU-80GB",
	"s-4vcpu-8gb":  "8GB-4vCPU-160GB",
	"s-8vcpu-16gb": "16GB-8vCPU-320GB",
}

// DropletTypeLabel returns the human label for a size slug, or the slug
// itself for sizes outside the offered set.
func DropletTypeLabel(slug string) string {
	if label, ok := DropletTypeLabels[slug]; ok {
		return label
	}
	return slug
}

var (
	resourceNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,253}[a-zA-Z0-9]$`)
	subdomainRe    = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
)

// ValidResourceName reports whether name is acceptable for a droplet or
// cluster: letters, digits, dot, dash, underscore; 2-255 chars; starts and
// ends alphanumeric.
func ValidResourceName(name string) bool {
	return resourceNameRe.MatchString(name)
}

// ValidSubdomain reports whether s is a usable DNS label (RFC 1035 host
// label, up to 63 chars).
func ValidSubdomain(s string) bool {
	return subdomainRe.MatchString(s)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
