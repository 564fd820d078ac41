// Package mapping holds tenant routing rules: how they are loaded, cached
// and matched against events.
package mapping

import (
	"context"
)

// PlaybookTypeEngine selects the playbook engine; every other playbook_type
// goes to the ingestion engine.
const PlaybookTypeEngine = "aoengine"

type Action struct {
	PlaybookType string         `json:"playbook_type" yaml:"playbook_type"`
	PlaybookID   string         `json:"playbook_id,omitempty" yaml:"playbook_id"`
	ConfigID     string         `json:"config_id,omitempty" yaml:"config_id"`
	TargetData   map[string]any `json:"target_data,omitempty" yaml:"target_data"`
	Params       map[string]any `json:"params,omitempty" yaml:"params"`
}

func (a Action) IsPlaybook() bool { return a.PlaybookType == PlaybookTypeEngine }

type Mapping struct {
	ID        string         `json:"id" yaml:"id"`
	Tenant    string         `json:"tenant" yaml:"tenant"`
	Condition map[string]any `json:"condition,omitempty" yaml:"condition"`
	Action    Action         `json:"action" yaml:"action"`
}

// Source returns the enabled mappings of a tenant.
type Source interface {
	Get(ctx context.Context, tenant string, forceRefresh bool) ([]Mapping, error)
}
