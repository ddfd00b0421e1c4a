package model

import (
	"time"
)

// SSLMode controls how a site terminates TLS.
type SSLMode string

const (
	SSLNone     SSLMode = "none"
	SSLStandard SSLMode = "standard"
	SSLWildcard SSLMode = "wildcard"
)

// Valid reports whether the mode is one of the known SSL modes.
func (m SSLMode) Valid() bool {
	switch m {
	case SSLNone, SSLStandard, SSLWildcard:
		return true
	}
	return false
}

// SiteStatus is the lifecycle state of a site.
type SiteStatus string

const (
	StatusPending      SiteStatus = "pending"
	StatusProvisioning SiteStatus = "provisioning"
	StatusActive       SiteStatus = "active"
	StatusDegraded     SiteStatus = "degraded"
	StatusStaging      SiteStatus = "staging"
	StatusDeleting     SiteStatus = "deleting"
)

// SupportedPHPVersions is the closed set of PHP runtimes the panel can provision.
var SupportedPHPVersions = []string{"7.4", "8.0", "8.1", "8.2", "8.3"}

// PHPVersionSupported reports whether v is a provisionable PHP version.
func PHPVersionSupported(v string) bool {
	for _, s := range SupportedPHPVersions {
		if s == v {
			return true
		}
	}
	return false
}

// Site is one hosted domain's full configuration. The domain is the unique key.
type Site struct {
	Domain     string     `yaml:"domain" json:"domain"`
	PHPVersion string     `yaml:"php_version" json:"php_version"`
	SSLMode    SSLMode    `yaml:"ssl_mode" json:"ssl_mode"`
	GitSource  string     `yaml:"git_source,omitempty" json:"git_source,omitempty"`
	ServerID   string     `yaml:"server_id" json:"server_id"`
	Status     SiteStatus `yaml:"status" json:"status"`

	// StagingFor links a staging site to the production domain it mirrors.
	// Empty for production sites.
	StagingFor string `yaml:"staging_for,omitempty" json:"staging_for,omitempty"`

	// Services are additional containers attached to the stack ("mariadb", "redis").
	Services []string `yaml:"services,omitempty" json:"services,omitempty"`

	// ServicePorts publishes a service's port on the host, e.g. {"mariadb": 3307}.
	ServicePorts map[string]int `yaml:"service_ports,omitempty" json:"service_ports,omitempty"`

	// PHPExtensions are extra extensions installed into the site's PHP
	// container. They are reinstalled whenever the container is replaced.
	PHPExtensions []string `yaml:"php_extensions,omitempty" json:"php_extensions,omitempty"`

	// RewriteRules are nginx rewrite directives translated from the deployed
	// source's .htaccess files. Regenerated on every deploy.
	RewriteRules []string `yaml:"rewrite_rules,omitempty" json:"rewrite_rules,omitempty"`

	// StackHash fingerprints the last applied container stack. Used for no-op
	// detection on rebuild.
	StackHash string `yaml:"stack_hash,omitempty" json:"stack_hash,omitempty"`

	// FailedStage names the provisioning stage that left the site degraded.
	FailedStage string `yaml:"failed_stage,omitempty" json:"failed_stage,omitempty"`

	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// IsStaging reports whether the site is a staging copy of another site.
func (s Site) IsStaging() bool { return s.StagingFor != "" }

// Clone returns a deep copy of the site.
func (s Site) Clone() Site {
	c := s
	c.Services = append([]string(nil), s.Services...)
	c.PHPExtensions = append([]string(nil), s.PHPExtensions...)
	c.RewriteRules = append([]string(nil), s.RewriteRules...)
	if s.ServicePorts != nil {
		c.ServicePorts = make(map[string]int, len(s.ServicePorts))
		for k, v := range s.ServicePorts {
			c.ServicePorts[k] = v
		}
	}
	return c
}

// ServerRole distinguishes the panel host from SSH-managed hosts.
type ServerRole string

const (
	RoleLocal  ServerRole = "local"
	RoleRemote ServerRole = "remote"
)

// Server is a managed host that sites are assigned to.
type Server struct {
	ID      string     `yaml:"id" json:"id"`
	Role    ServerRole `yaml:"role" json:"role"`
	Address string     `yaml:"address,omitempty" json:"address,omitempty"` // host:port for SSH
	User    string     `yaml:"user,omitempty" json:"user,omitempty"`
	KeyPath string     `yaml:"key_path,omitempty" json:"key_path,omitempty"`

	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// CertState is the issuance state of a certificate record.
type CertState string

const (
	CertUnissued          CertState = "unissued"
	CertPendingValidation CertState = "pending-validation"
	CertValid             CertState = "valid"
	CertExpired           CertState = "expired"
	CertFailed            CertState = "failed"
)

// CertificateRecord tracks one certificate per domain or wildcard pattern.
// Its state is independent of the site's own status: a site can be active
// while its certificate is still pending validation.
type CertificateRecord struct {
	Domain   string    `yaml:"domain" json:"domain"`
	Wildcard bool      `yaml:"wildcard" json:"wildcard"`
	State    CertState `yaml:"state" json:"state"`

	// Method records how the certificate was (or will be) validated.
	Method string `yaml:"method,omitempty" json:"method,omitempty"` // "http-01" or "dns-01"

	// ChallengeToken is the value the operator must publish as a DNS TXT record
	// at _acme-challenge.<domain> for wildcard issuance.
	ChallengeToken string `yaml:"challenge_token,omitempty" json:"challenge_token,omitempty"`

	ExpiresAt time.Time `yaml:"expires_at,omitempty" json:"expires_at,omitempty"`
	IssuedAt  time.Time `yaml:"issued_at,omitempty" json:"issued_at,omitempty"`
	LastError string    `yaml:"last_error,omitempty" json:"last_error,omitempty"`
}
