package sla

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/models"
)

// targetsFile is the on-disk layout of an SLA targets file:
//
//	targets:
//	  - id: nightly-db
//	    name: Nightly database duration
//	    job_id: job-42
//	    max_duration_seconds: 3600
//	    enabled: true
type targetsFile struct {
	Targets []models.SLATarget `yaml:"targets"`
}

// LoadTargetsFile reads targets from a YAML file and registers them in r,
// in file order. It returns the number of targets registered.
func LoadTargetsFile(r *Registry, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "sla: read targets file %q", path)
	}

	var file targetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, errors.Wrapf(err, "sla: parse targets file %q", path)
	}

	for i, t := range file.Targets {
		if err := r.Register(t); err != nil {
			return i, errors.Wrapf(err, "sla: target %d (%s) in %q", i, t.ID, path)
		}
	}
	return len(file.Targets), nil
}
