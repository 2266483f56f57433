// Package roster stores the demo configuration: who the elder is and who is
// in their village. It lives in a TOML file next to the binaries.
package roster

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/vango-go/village-live/pkg/village"
)

// ElderID is the identity given to the configured elder.
const ElderID = "elder-1"

// Mode decides where village calls are routed.
type Mode string

const (
	// ModeAllToMe routes every village call to MyPhone.
	ModeAllToMe Mode = "all-to-me"
	// ModeCustom calls each member on their own number.
	ModeCustom Mode = "custom"
)

type ElderInfo struct {
	Name    string `koanf:"name"`
	Age     int    `koanf:"age"`
	Phone   string `koanf:"phone"`
	Address string `koanf:"address"`
}

// Roster is the demo configuration.
type Roster struct {
	Mode      Mode                    `koanf:"mode"`
	MyPhone   string                  `koanf:"my_phone"`
	ElderInfo ElderInfo               `koanf:"elder"`
	Village   []village.VillageMember `koanf:"village"`
}

// Load reads and validates a roster file.
func Load(path string) (*Roster, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("load roster %s: %w", path, err)
	}
	var r Roster
	if err := k.Unmarshal("", &r); err != nil {
		return nil, fmt.Errorf("decode roster %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("roster %s: %w", path, err)
	}
	return &r, nil
}

// Save validates r and writes it to path, replacing any existing file
// atomically.
func Save(path string, r *Roster) error {
	if r == nil {
		return errors.New("roster must not be nil")
	}
	if err := r.Validate(); err != nil {
		return err
	}
	blob, err := toml.Parser().Marshal(r.toMap())
	if err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".roster-*.toml")
	if err != nil {
		return fmt.Errorf("create temp roster: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write roster: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write roster: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace roster %s: %w", path, err)
	}
	return nil
}

func (r *Roster) toMap() map[string]any {
	members := make([]map[string]any, 0, len(r.Village))
	for _, m := range r.Village {
		members = append(members, map[string]any{
			"id":           m.ID,
			"name":         m.Name,
			"role":         string(m.Role),
			"relationship": m.Relationship,
			"phone":        m.Phone,
			"availability": m.Availability,
			"notes":        m.Notes,
			"enabled":      m.IsEnabled(),
		})
	}
	return map[string]any{
		"mode":     string(r.Mode),
		"my_phone": r.MyPhone,
		"elder": map[string]any{
			"name":    r.ElderInfo.Name,
			"age":     r.ElderInfo.Age,
			"phone":   r.ElderInfo.Phone,
			"address": r.ElderInfo.Address,
		},
		"village": members,
	}
}

// Validate checks the roster is usable for a demo call.
func (r *Roster) Validate() error {
	switch r.Mode {
	case ModeAllToMe:
		if strings.TrimSpace(r.MyPhone) == "" {
			return errors.New("my_phone is required in all-to-me mode")
		}
	case ModeCustom:
	default:
		return fmt.Errorf("mode must be one of %s|%s", ModeAllToMe, ModeCustom)
	}
	if strings.TrimSpace(r.ElderInfo.Name) == "" {
		return errors.New("elder.name is required")
	}
	if r.ElderInfo.Age < 0 {
		return errors.New("elder.age must be >= 0")
	}

	seen := make(map[string]struct{}, len(r.Village))
	for i, m := range r.Village {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("village[%d].id is required", i)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("village[%d].id %q is duplicated", i, m.ID)
		}
		seen[m.ID] = struct{}{}
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("village[%d].name is required", i)
		}
		if !m.Role.Valid() {
			return fmt.Errorf("village[%d].role %q is not a known role", i, m.Role)
		}
		if r.Mode == ModeCustom && m.IsEnabled() && strings.TrimSpace(m.Phone) == "" {
			return fmt.Errorf("village[%d].phone is required in custom mode", i)
		}
	}
	return nil
}

// Elder builds the elder profile for a session. Disabled members are left
// out; in all-to-me mode every member is reached on MyPhone.
func (r *Roster) Elder() village.Elder {
	members := make([]village.VillageMember, 0, len(r.Village))
	for _, m := range r.Village {
		if !m.IsEnabled() {
			continue
		}
		if r.Mode == ModeAllToMe {
			m.Phone = r.MyPhone
		}
		members = append(members, m)
	}
	return village.Elder{
		ID:      ElderID,
		Name:    r.ElderInfo.Name,
		Age:     r.ElderInfo.Age,
		Phone:   r.ElderInfo.Phone,
		Address: r.ElderInfo.Address,
		Profile: []village.ProfileFact{},
		Village: members,
	}
}

const defaultPhone = "+1-437-260-4814"

// Default is the demo roster written by "roster init": every call goes to one
// phone and only the daughter is enabled.
func Default() *Roster {
	off := false
	return &Roster{
		Mode:      ModeAllToMe,
		MyPhone:   defaultPhone,
		ElderInfo: ElderInfo{Name: "Margaret", Age: 81, Phone: defaultPhone},
		Village: []village.VillageMember{
			{
				ID: "vm-001", Name: "Susan Chen", Role: village.RoleFamily,
				Relationship: "daughter", Phone: defaultPhone, Availability: "evenings",
				Notes: "Works full-time, feels guilty about not calling more",
			},
			{
				ID: "vm-002", Name: "Tom Bradley", Role: village.RoleNeighbor,
				Relationship: "next-door neighbor", Phone: defaultPhone, Availability: "afternoons",
				Notes: "Retired nurse, brings the mail often", Enabled: &off,
			},
			{
				ID: "vm-003", Name: "Dr. Maria Martinez", Role: village.RoleMedical,
				Relationship: "primary care physician", Phone: defaultPhone, Availability: "office hours",
				Notes: "Has been her doctor for 15 years", Enabled: &off,
			},
			{
				ID: "vm-004", Name: "Jane Thompson", Role: village.RoleVolunteer,
				Relationship: "companion volunteer", Phone: defaultPhone, Availability: "Tuesdays and Thursdays",
				Notes: "Also loves card games, matched based on interests", Enabled: &off,
			},
		},
	}
}
