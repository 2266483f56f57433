package roster

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vango-go/village-live/pkg/village"
)

const sampleRoster = `
mode = "all-to-me"
my_phone = "+15550001111"

[elder]
name = "Margaret"
age = 82
phone = "+15550002222"

[[village]]
id = "sarah"
name = "Sarah"
role = "family"
relationship = "Daughter"
phone = "+15550003333"

[[village]]
id = "tom"
name = "Tom"
role = "neighbor"
relationship = "Neighbor"
phone = "+15550004444"
enabled = false
`

func writeRoster(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write roster: %v", err)
	}
	return path
}

func TestLoad_ElderSkipsDisabledAndRoutesToMe(t *testing.T) {
	t.Parallel()

	r, err := Load(writeRoster(t, sampleRoster))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if r.ElderInfo.Age != 82 || len(r.Village) != 2 {
		t.Fatalf("roster=%+v", r)
	}

	elder := r.Elder()
	if elder.ID != ElderID || elder.Name != "Margaret" {
		t.Fatalf("elder=%+v", elder)
	}
	if len(elder.Village) != 1 || elder.Village[0].ID != "sarah" {
		t.Fatalf("village=%+v", elder.Village)
	}
	if elder.Village[0].Phone != "+15550001111" {
		t.Fatalf("phone=%q, want my_phone", elder.Village[0].Phone)
	}
	// The roster itself keeps the member's own number.
	if r.Village[0].Phone != "+15550003333" {
		t.Fatalf("roster mutated: %q", r.Village[0].Phone)
	}
}

func TestSave_ThenLoad(t *testing.T) {
	t.Parallel()

	disabled := false
	want := &Roster{
		Mode: ModeCustom,
		ElderInfo: ElderInfo{
			Name:  "Walter",
			Age:   79,
			Phone: "+15550009999",
		},
		Village: []village.VillageMember{
			{ID: "dr-lee", Name: "Dr. Lee", Role: village.RoleMedical, Phone: "+15550005555", Notes: "Mornings only"},
			{ID: "ana", Name: "Ana", Role: village.RoleVolunteer, Enabled: &disabled},
		},
	}
	path := filepath.Join(t.TempDir(), "roster.toml")
	if err := Save(path, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	enabled := true
	want.Village[0].Enabled = &enabled
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("roster mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Roster {
		return &Roster{
			Mode:      ModeAllToMe,
			MyPhone:   "+1555",
			ElderInfo: ElderInfo{Name: "Margaret"},
			Village:   []village.VillageMember{{ID: "a", Name: "A", Role: village.RoleFamily}},
		}
	}

	tests := []struct {
		name   string
		mutate func(r *Roster)
		want   string
	}{
		{"unknown mode", func(r *Roster) { r.Mode = "broadcast" }, "mode must be one of"},
		{"all-to-me without phone", func(r *Roster) { r.MyPhone = "" }, "my_phone is required"},
		{"missing elder name", func(r *Roster) { r.ElderInfo.Name = " " }, "elder.name is required"},
		{"duplicate member", func(r *Roster) { r.Village = append(r.Village, r.Village[0]) }, "is duplicated"},
		{"unknown role", func(r *Roster) { r.Village[0].Role = "butler" }, "not a known role"},
		{"custom needs phone", func(r *Roster) { r.Mode = ModeCustom }, "phone is required in custom mode"},
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("base roster invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base()
			tt.mutate(r)
			err := r.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err=%v, want %q", err, tt.want)
			}
		})
	}
}

func TestSave_RejectsInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "roster.toml")
	if err := Save(path, &Roster{Mode: ModeCustom}); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file written for invalid roster: %v", err)
	}
}

func TestDefault_IsValidAndEnablesOneMember(t *testing.T) {
	t.Parallel()

	r := Default()
	if err := r.Validate(); err != nil {
		t.Fatalf("Default() invalid: %v", err)
	}
	if got := r.Elder().Village; len(got) != 1 || got[0].ID != "vm-001" {
		t.Fatalf("enabled=%+v", got)
	}
}
