package stack

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/xedro98/Glacier/internal/model"
)

func runningState(desc Descriptor) []ContainerState {
	var out []ContainerState
	for _, spec := range desc.Services {
		out = append(out, ContainerState{
			Name:   spec.Name,
			Image:  spec.Image,
			State:  "running",
			Labels: spec.Labels,
		})
	}
	return out
}

func TestReconcileNoChanges(t *testing.T) {
	desc, _ := Compute(siteWithServices())
	plan := Reconcile(desc, runningState(desc))
	if !plan.Empty() {
		t.Fatalf("expected empty plan, got %+v", plan)
	}
}

func TestReconcileFreshHost(t *testing.T) {
	desc, _ := Compute(siteWithServices())
	plan := Reconcile(desc, nil)
	if len(plan.Create) != 3 || len(plan.Recreate) != 0 || len(plan.Remove) != 0 {
		t.Fatalf("expected 3 creates on a fresh host, got %+v", plan)
	}
}

func TestReconcileOnlyChangedService(t *testing.T) {
	before, _ := Compute(siteWithServices())
	current := runningState(before)

	changed := siteWithServices()
	changed.PHPVersion = "8.3"
	after, _ := Compute(changed)

	plan := Reconcile(after, current)
	if len(plan.Recreate) != 1 || plan.Recreate[0] != "php" {
		t.Fatalf("only php should be recreated, got %+v", plan)
	}
	if len(plan.Create) != 0 || len(plan.Remove) != 0 {
		t.Fatalf("unchanged services must be untouched, got %+v", plan)
	}
}

func TestReconcileRemovesDroppedService(t *testing.T) {
	before, _ := Compute(siteWithServices())
	current := runningState(before)

	trimmed := siteWithServices()
	trimmed.Services = []string{"mariadb"}
	after, _ := Compute(trimmed)

	plan := Reconcile(after, current)
	if len(plan.Remove) != 1 || plan.Remove[0] != "example-com-cache" {
		t.Fatalf("dropped redis should be removed, got %+v", plan)
	}
}

func TestReconcileStartsStoppedContainer(t *testing.T) {
	desc, _ := Compute(siteWithServices())
	current := runningState(desc)
	for i := range current {
		if current[i].Name == "example-com-php" {
			current[i].State = "exited"
		}
	}
	plan := Reconcile(desc, current)
	if len(plan.Create) != 1 || plan.Create[0] != "php" {
		t.Fatalf("exited php should be started, got %+v", plan)
	}
}

func TestReconcileIgnoresOtherSites(t *testing.T) {
	desc, _ := Compute(siteWithServices())
	foreign := ContainerState{
		Name:   "other-com-php",
		State:  "running",
		Labels: map[string]string{LabelSite: "other.com"},
	}
	plan := Reconcile(desc, append(runningState(desc), foreign))
	if !plan.Empty() {
		t.Fatalf("containers of other sites must be ignored, got %+v", plan)
	}
}

// Reconciling a stack against exactly the containers it describes is always a
// no-op, and against a fresh host always creates every service once.
func TestReconcileConvergenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	genSite := gopter.CombineGens(
		gen.RegexMatch(`[a-z][a-z0-9]{1,10}\.[a-z]{2,3}`),
		gen.OneConstOf(model.SupportedPHPVersions[0], model.SupportedPHPVersions[1],
			model.SupportedPHPVersions[2], model.SupportedPHPVersions[3], model.SupportedPHPVersions[4]),
		gen.OneConstOf([]string{}, []string{"mariadb"}, []string{"redis"}, []string{"mariadb", "redis"}),
	).Map(func(vals []interface{}) model.Site {
		return model.Site{
			Domain:     vals[0].(string),
			PHPVersion: vals[1].(string),
			Services:   vals[2].([]string),
		}
	})

	properties := gopter.NewProperties(parameters)
	properties.Property("converged stacks reconcile to an empty plan", prop.ForAll(
		func(site model.Site) bool {
			desc, err := Compute(site)
			if err != nil {
				return false
			}
			if !Reconcile(desc, runningState(desc)).Empty() {
				return false
			}
			fresh := Reconcile(desc, nil)
			return len(fresh.Create) == len(desc.Services) &&
				len(fresh.Recreate) == 0 && len(fresh.Remove) == 0
		},
		genSite,
	))
	properties.TestingRun(t)
}
