package mapping

import "context"

// Static serves mappings declared in the pipeline file.
type Static struct {
	byTenant map[string][]Mapping
}

func NewStatic(ms []Mapping) *Static {
	s := &Static{byTenant: make(map[string][]Mapping)}
	for _, m := range ms {
		s.byTenant[m.Tenant] = append(s.byTenant[m.Tenant], m)
	}
	return s
}

func (s *Static) Get(_ context.Context, tenant string, _ bool) ([]Mapping, error) {
	return s.byTenant[tenant], nil
}

// Load lets Static back a Retriever in tests and local runs.
func (s *Static) Load(ctx context.Context, tenant string) ([]Mapping, error) {
	return s.Get(ctx, tenant, true)
}
