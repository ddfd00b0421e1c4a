package stack

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type composeService struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name"`
	Environment   map[string]string `yaml:"environment,omitempty"`
	Ports         []string          `yaml:"ports,omitempty"`
	Volumes       []string          `yaml:"volumes,omitempty"`
	Labels        map[string]string `yaml:"labels,omitempty"`
	Restart       string            `yaml:"restart"`
}

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
	Volumes  map[string]*struct{}      `yaml:"volumes,omitempty"`
}

// RenderCompose produces the docker compose file for a descriptor. The YAML
// encoder sorts map keys, so identical descriptors render identical bytes.
func RenderCompose(desc Descriptor) (string, error) {
	cf := composeFile{Services: map[string]composeService{}}

	for name, spec := range desc.Services {
		cf.Services[name] = composeService{
			Image:         spec.Image,
			ContainerName: spec.Name,
			Environment:   spec.Env,
			Ports:         spec.Ports,
			Volumes:       spec.Volumes,
			Labels:        spec.Labels,
			Restart:       spec.Restart,
		}
	}

	for _, vol := range desc.ClaimedVolumes() {
		if cf.Volumes == nil {
			cf.Volumes = map[string]*struct{}{}
		}
		cf.Volumes[vol] = nil
	}

	data, err := yaml.Marshal(cf)
	if err != nil {
		return "", fmt.Errorf("marshal compose file: %w", err)
	}
	return string(data), nil
}
