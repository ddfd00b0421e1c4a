package stack

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xedro98/Glacier/internal/model"
	"github.com/xedro98/Glacier/internal/proxy"
)

// Label keys applied to every managed container.
const (
	LabelSite    = "glacier.site"
	LabelService = "glacier.service"
	LabelHash    = "glacier.config-hash"
)

// ContainerSpec is one desired container in a site's stack.
type ContainerSpec struct {
	Name    string            `yaml:"name"`
	Image   string            `yaml:"image"`
	Env     map[string]string `yaml:"env,omitempty"`
	Ports   []string          `yaml:"ports,omitempty"`   // "host:container"
	Volumes []string          `yaml:"volumes,omitempty"` // bind or named volume mounts
	Labels  map[string]string `yaml:"labels,omitempty"`
	Restart string            `yaml:"restart"`
}

// Descriptor is the derived set of containers a site requires. It is a pure
// function of the site's fields, regenerated on every create and rebuild,
// never hand-edited or persisted on its own.
type Descriptor struct {
	Domain   string
	Services map[string]ContainerSpec // keyed by service name
}

var serviceImages = map[string]string{
	"mariadb": "mariadb:10.11",
	"redis":   "redis:7-alpine",
}

var servicePorts = map[string]int{
	"mariadb": 3306,
	"redis":   6379,
}

// Compute derives the container topology for a site.
func Compute(site model.Site) (Descriptor, error) {
	if !model.PHPVersionSupported(site.PHPVersion) {
		return Descriptor{}, fmt.Errorf("%w: %q", model.ErrUnsupportedPHPVersion, site.PHPVersion)
	}

	name := proxy.SanitizeName(site.Domain)
	desc := Descriptor{Domain: site.Domain, Services: map[string]ContainerSpec{}}

	php := ContainerSpec{
		Name:    name + "-php",
		Image:   "php:" + site.PHPVersion + "-fpm",
		Volumes: []string{"./site:/var/www/html/" + site.Domain},
		Restart: "always",
	}
	if len(site.PHPExtensions) > 0 {
		exts := append([]string(nil), site.PHPExtensions...)
		sort.Strings(exts)
		// The marker folds the extension list into the config hash, so an
		// extension change replaces the container. The engine installs the
		// extensions into the fresh container after every (re)create.
		php.Env = map[string]string{"GLACIER_PHP_EXTENSIONS": strings.Join(exts, " ")}
	}
	desc.Services["php"] = php

	for _, svc := range site.Services {
		image, ok := serviceImages[svc]
		if !ok {
			return Descriptor{}, fmt.Errorf("unknown attached service %q", svc)
		}
		spec := ContainerSpec{
			Name:    name + "-" + shortServiceName(svc),
			Image:   image,
			Restart: "always",
		}
		switch svc {
		case "mariadb":
			spec.Env = map[string]string{
				"MYSQL_DATABASE":      strings.ReplaceAll(name, "-", "_"),
				"MYSQL_ROOT_PASSWORD": "${GLACIER_DB_ROOT_PASSWORD}",
			}
			spec.Volumes = []string{name + "-db-data:/var/lib/mysql"}
		case "redis":
			spec.Volumes = []string{name + "-cache-data:/data"}
		}
		if hostPort, ok := site.ServicePorts[svc]; ok {
			spec.Ports = []string{fmt.Sprintf("%d:%d", hostPort, servicePorts[svc])}
		}
		desc.Services[svc] = spec
	}

	// Stamp identity and config-hash labels last so the hash covers the
	// final spec.
	for svcName, spec := range desc.Services {
		spec.Labels = map[string]string{
			LabelSite:    site.Domain,
			LabelService: svcName,
		}
		spec.Labels[LabelHash] = SpecHash(spec)
		desc.Services[svcName] = spec
	}

	return desc, nil
}

func shortServiceName(svc string) string {
	switch svc {
	case "mariadb":
		return "db"
	case "redis":
		return "cache"
	}
	return svc
}

// SpecHash fingerprints a container spec, ignoring the hash label itself.
func SpecHash(spec ContainerSpec) string {
	clean := spec
	if spec.Labels != nil {
		clean.Labels = map[string]string{}
		for k, v := range spec.Labels {
			if k != LabelHash {
				clean.Labels[k] = v
			}
		}
	}
	data, _ := yaml.Marshal(clean)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// Hash fingerprints the whole descriptor. The engine stores it on the site
// for no-op detection on rebuild.
func (d Descriptor) Hash() string {
	names := make([]string, 0, len(d.Services))
	for name := range d.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		fmt.Fprintf(h, "%s=%s\n", name, d.Services[name].Labels[LabelHash])
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// ClaimedPorts lists the host ports the descriptor binds.
func (d Descriptor) ClaimedPorts() []string {
	var out []string
	for _, spec := range d.Services {
		for _, p := range spec.Ports {
			if i := strings.Index(p, ":"); i > 0 {
				out = append(out, p[:i])
			}
		}
	}
	sort.Strings(out)
	return out
}

// ClaimedVolumes lists the named volumes the descriptor mounts.
func (d Descriptor) ClaimedVolumes() []string {
	var out []string
	for _, spec := range d.Services {
		for _, v := range spec.Volumes {
			if strings.HasPrefix(v, "./") || strings.HasPrefix(v, "/") {
				continue // bind mount, not a named volume
			}
			if i := strings.Index(v, ":"); i > 0 {
				out = append(out, v[:i])
			}
		}
	}
	sort.Strings(out)
	return out
}

// CheckConflicts fails with ResourceConflict when the descriptor claims a host
// port or named volume already claimed by another site on the same server.
func CheckConflicts(desc Descriptor, others []Descriptor) error {
	ports := map[string]string{}
	volumes := map[string]string{}
	for _, other := range others {
		if other.Domain == desc.Domain {
			continue
		}
		for _, p := range other.ClaimedPorts() {
			ports[p] = other.Domain
		}
		for _, v := range other.ClaimedVolumes() {
			volumes[v] = other.Domain
		}
	}
	for _, p := range desc.ClaimedPorts() {
		if owner, taken := ports[p]; taken {
			return fmt.Errorf("%w: port %s is used by %s", model.ErrResourceConflict, p, owner)
		}
	}
	for _, v := range desc.ClaimedVolumes() {
		if owner, taken := volumes[v]; taken {
			return fmt.Errorf("%w: volume %s is used by %s", model.ErrResourceConflict, v, owner)
		}
	}
	return nil
}
