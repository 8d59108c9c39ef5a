package authz

import "testing"

func TestCatalogCodesAreUniqueAndGrouped(t *testing.T) {
	seen := make(map[string]bool)
	for _, p := range Catalog() {
		if p.Code == "" || p.Description == "" {
			t.Fatalf("incomplete catalog entry: %+v", p)
		}
		if seen[p.Code] {
			t.Fatalf("duplicate code %q", p.Code)
		}
		seen[p.Code] = true
	}

	grouped := 0
	for name, codes := range Groups() {
		for _, code := range codes {
			if !seen[code] {
				t.Fatalf("group %q references unknown code %q", name, code)
			}
			grouped++
		}
	}
	if grouped != len(seen) {
		t.Fatalf("expected every code grouped exactly once: %d grouped, %d total", grouped, len(seen))
	}
}

func TestInvalidCodes(t *testing.T) {
	invalid := InvalidCodes([]string{PermUsersView, "usuarios.inventar", PermRolesManage})
	if len(invalid) != 1 || invalid[0] != "usuarios.inventar" {
		t.Fatalf("unexpected invalid set: %v", invalid)
	}
	if !KnownPermission(PermAccessProcess) {
		t.Fatal("expected catalog code to be known")
	}
}
