package stack

import "sort"

// ContainerState is the observed state of one managed container on a host.
type ContainerState struct {
	Name   string
	Image  string
	State  string // running, exited, created, ...
	Labels map[string]string
}

// Plan is the minimal set of changes that brings a host's containers in line
// with a descriptor. Only changed containers are touched, preserving mounted
// data volumes and avoiding restarts of unchanged services.
type Plan struct {
	Create   []string // service names to create or start
	Recreate []string // service names whose config changed
	Remove   []string // container names no longer in the descriptor
}

// Empty reports whether applying the plan would change nothing.
func (p Plan) Empty() bool {
	return len(p.Create) == 0 && len(p.Recreate) == 0 && len(p.Remove) == 0
}

// Changed lists the service names the plan will (re)start.
func (p Plan) Changed() []string {
	out := append(append([]string(nil), p.Create...), p.Recreate...)
	sort.Strings(out)
	return out
}

// Reconcile diffs the desired descriptor against the containers currently on
// the host. Containers carrying the site label but absent from the descriptor
// are scheduled for removal; matching containers with an unchanged config
// hash are left alone.
func Reconcile(desc Descriptor, current []ContainerState) Plan {
	byName := map[string]ContainerState{}
	for _, c := range current {
		if c.Labels[LabelSite] == desc.Domain {
			byName[c.Name] = c
		}
	}

	var plan Plan
	desired := map[string]bool{}
	for svcName, spec := range desc.Services {
		desired[spec.Name] = true
		existing, ok := byName[spec.Name]
		switch {
		case !ok:
			plan.Create = append(plan.Create, svcName)
		case existing.Labels[LabelHash] != spec.Labels[LabelHash]:
			plan.Recreate = append(plan.Recreate, svcName)
		case existing.State != "running":
			plan.Create = append(plan.Create, svcName)
		}
	}

	for name := range byName {
		if !desired[name] {
			plan.Remove = append(plan.Remove, name)
		}
	}

	sort.Strings(plan.Create)
	sort.Strings(plan.Recreate)
	sort.Strings(plan.Remove)
	return plan
}
