package downstream

import (
	"errors"

	"mapdispatch/internal/event"
	"mapdispatch/internal/mapping"
)

var ErrNoPlaybook = errors.New("downstream: no playbook_id for aoengine mapping")

// Target is a resolved dispatch: PlaybookTarget or IngestionTarget. It is
// computed once per mapping and reused by every attempt.
type Target interface {
	MappingID() string
	isTarget()
}

type PlaybookTarget struct {
	Mapping    string
	Tenant     string
	PlaybookID string
	ConfigID   string
	// Event is a private copy carrying extra_info.
	Event event.Event
}

type IngestionTarget struct {
	Mapping string
	// Tenant goes out as the Tenant header when set; otherwise the engine
	// resolves the tenant from the API key.
	Tenant  string
	Payload map[string]any
}

func (t PlaybookTarget) MappingID() string  { return t.Mapping }
func (t IngestionTarget) MappingID() string { return t.Mapping }
func (PlaybookTarget) isTarget()            {}
func (IngestionTarget) isTarget()           {}

// Resolve picks the engine for m and prepares the request inputs. The
// caller's event is never modified.
func Resolve(ev event.Event, m mapping.Mapping) (Target, error) {
	a := m.Action
	if a.IsPlaybook() {
		pb, cfg := a.PlaybookID, a.ConfigID
		if pb == "" {
			pb = ev.DataString("playbook_id")
		}
		if cfg == "" {
			cfg = ev.DataString("config_id")
		}
		if pb == "" {
			return nil, ErrNoPlaybook
		}
		in := ev.WithData(a.TargetData).WithExtraInfo(map[string]any{"mapping_id": m.ID})
		return PlaybookTarget{
			Mapping:    m.ID,
			Tenant:     ev.Tenant(),
			PlaybookID: pb,
			ConfigID:   cfg,
			Event:      in,
		}, nil
	}

	payload := map[string]any{
		"event":      ev.WithData(a.TargetData),
		"mapping_id": m.ID,
	}
	if a.PlaybookType != "" {
		payload["playbook_type"] = a.PlaybookType
	}
	if len(a.Params) > 0 {
		payload["params"] = a.Params
	}
	return IngestionTarget{Mapping: m.ID, Tenant: m.Tenant, Payload: payload}, nil
}
