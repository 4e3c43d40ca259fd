package authoring

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"schoolbell/internal/schedule"
	"schoolbell/internal/storage"
	logx "schoolbell/pkg/logx"
)

// CreateSchool registers a school. An empty apiKey gets a random one; the key
// is returned on the tenant and never listed again.
func (s *Service) CreateSchool(ctx context.Context, name, apiKey string) (schedule.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return schedule.Tenant{}, schedule.FieldErrors{"Name": "required"}
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		apiKey = uuid.NewString()
	}
	t, err := s.store.CreateTenant(ctx, schedule.Tenant{Name: name, APIKey: apiKey, CreatedAt: s.clock.Now()})
	if err != nil {
		return schedule.Tenant{}, fmt.Errorf("create school: %w", err)
	}
	s.record(ctx, t.ID, fmt.Sprintf("Created school %q", name))
	return t, nil
}

// ListSchools returns every school ordered by name.
func (s *Service) ListSchools(ctx context.Context) ([]schedule.Tenant, error) {
	ids, err := s.store.ListTenantIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schools: %w", err)
	}
	out := make([]schedule.Tenant, 0, len(ids))
	for _, id := range ids {
		t, err := s.store.GetTenant(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load school %s: %w", id, err)
		}
		if t != nil {
			out = append(out, *t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Service) RenameSchool(ctx context.Context, tenantID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return schedule.FieldErrors{"Name": "required"}
	}
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("school %s: %w", tenantID, storage.ErrNotFound)
	}
	if err := s.store.RenameTenant(ctx, tenantID, name); err != nil {
		return fmt.Errorf("rename school: %w", err)
	}
	s.record(ctx, tenantID, fmt.Sprintf("Renamed school %q to %q", t.Name, name))
	return nil
}

// DeleteSchool removes the school with its schedules, bells, special days and
// activity log. The deletion is logged here since the activity log goes with it.
func (s *Service) DeleteSchool(ctx context.Context, tenantID string) error {
	if err := s.store.DeleteTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("delete school %s: %w", tenantID, err)
	}
	s.log.Info("school deleted", logx.Tenant(tenantID))
	return nil
}
