package dlp

import "testing"

func TestProfileRegistryGet(t *testing.T) {
	r := NewProfileRegistry()

	t.Run("case insensitive", func(t *testing.T) {
		for _, name := range []string{"DEFAULT", "default", "Default"} {
			p, ok := r.Get(name)
			if !ok {
				t.Fatalf("Get(%q) missing", name)
			}
			if p.Name != "DEFAULT" {
				t.Errorf("Get(%q).Name = %q", name, p.Name)
			}
		}
	})

	t.Run("unknown profile", func(t *testing.T) {
		if _, ok := r.Get("NO_SUCH"); ok {
			t.Error("unknown profile resolved")
		}
	})
}

func TestProfileRegistryList(t *testing.T) {
	r := NewProfileRegistry()
	profiles := r.List()

	wantOrder := []string{"DEFAULT", "FINANCIAL", "GOVERNMENT", "NIS", "HEALTHCARE", "DEV_ONLY"}
	if len(profiles) != len(wantOrder) {
		t.Fatalf("len = %d, want %d", len(profiles), len(wantOrder))
	}
	for i, want := range wantOrder {
		if profiles[i].Name != want {
			t.Errorf("profiles[%d] = %q, want %q", i, profiles[i].Name, want)
		}
	}
}

func TestProfileRegistryRegister(t *testing.T) {
	r := NewProfileRegistry()

	custom := DetectionProfile{
		Name:         "legal",
		Label:        "법무팀",
		Description:  "Contract review. Names and emails only.",
		EnabledTypes: []FindingType{TypeName, TypeEmail},
	}
	r.Register(custom)

	p, ok := r.Get("LEGAL")
	if !ok {
		t.Fatal("registered profile missing")
	}
	if len(p.EnabledTypes) != 2 {
		t.Errorf("EnabledTypes = %v", p.EnabledTypes)
	}
	if got := len(r.List()); got != 7 {
		t.Errorf("List() len = %d, want 7", got)
	}

	// Re-registering the same name replaces without growing the list.
	custom.Description = "updated"
	r.Register(custom)
	if got := len(r.List()); got != 7 {
		t.Errorf("List() len after replace = %d, want 7", got)
	}
}

func TestDevOnlyProfileScope(t *testing.T) {
	r := NewProfileRegistry()
	p, ok := r.Get("DEV_ONLY")
	if !ok {
		t.Fatal("DEV_ONLY missing")
	}

	enabled := make(map[FindingType]bool)
	for _, ft := range p.EnabledTypes {
		enabled[ft] = true
	}
	if !enabled[TypeResidentID] || !enabled[TypeCard] {
		t.Error("DEV_ONLY must keep resident ID and card")
	}
	if enabled[TypeEmail] || enabled[TypeName] {
		t.Error("DEV_ONLY must not detect general PII")
	}
	for _, ft := range SecretTypes {
		if !enabled[ft] {
			t.Errorf("DEV_ONLY missing secret type %s", ft)
		}
	}
	if !enabled[TypeCode] {
		t.Error("DEV_ONLY missing CODE")
	}
}
