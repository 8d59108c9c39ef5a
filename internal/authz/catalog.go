package authz

import "sort"

// System permission codes. The catalog is defined in code: permissions
// are not user-creatable, roles only reference them.
const (
	PermUsersView   = "usuarios.ver"
	PermUsersCreate = "usuarios.crear"
	PermUsersEdit   = "usuarios.editar"
	PermUsersDelete = "usuarios.eliminar"

	PermRolesView   = "roles.ver"
	PermRolesManage = "roles.gestionar"

	PermAccessView     = "accesos.ver"
	PermAccessRegister = "accesos.registrar"
	PermAccessProcess  = "accesos.procesar_imagen"
	PermAccessCatalogs = "accesos.catalogos"

	PermReportsBasic    = "reportes.basicos"
	PermReportsAdvanced = "reportes.avanzados"

	PermDashboardAdmin = "dashboard.admin"

	PermProfileView = "perfil.ver"
	PermProfileEdit = "perfil.editar"
)

// Permission pairs a code with a human readable description. Codes are
// opaque to the authorization model; descriptions exist for display.
type Permission struct {
	Code        string
	Description string
}

var catalog = []Permission{
	{PermUsersView, "Ver usuarios"},
	{PermUsersCreate, "Crear usuarios"},
	{PermUsersEdit, "Editar usuarios"},
	{PermUsersDelete, "Eliminar usuarios"},
	{PermRolesView, "Ver roles"},
	{PermRolesManage, "Gestionar roles y permisos"},
	{PermAccessView, "Ver registros de acceso vehicular"},
	{PermAccessRegister, "Registrar entradas y salidas"},
	{PermAccessProcess, "Procesar imágenes de placas"},
	{PermAccessCatalogs, "Gestionar catálogos de acceso"},
	{PermReportsBasic, "Ver reportes básicos"},
	{PermReportsAdvanced, "Ver reportes avanzados"},
	{PermDashboardAdmin, "Ver dashboard administrativo"},
	{PermProfileView, "Ver perfil propio"},
	{PermProfileEdit, "Editar perfil propio"},
}

// groups categorize permissions for display. Category membership
// carries no authorization semantics.
var groups = map[string][]string{
	"usuarios":  {PermUsersView, PermUsersCreate, PermUsersEdit, PermUsersDelete},
	"roles":     {PermRolesView, PermRolesManage},
	"accesos":   {PermAccessView, PermAccessRegister, PermAccessProcess, PermAccessCatalogs},
	"reportes":  {PermReportsBasic, PermReportsAdvanced},
	"dashboard": {PermDashboardAdmin},
	"perfil":    {PermProfileView, PermProfileEdit},
}

// Catalog returns every system permission ordered by code.
func Catalog() []Permission {
	out := make([]Permission, len(catalog))
	copy(out, catalog)
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Groups returns the display categories mapped to their codes.
func Groups() map[string][]string {
	out := make(map[string][]string, len(groups))
	for name, codes := range groups {
		cp := make([]string, len(codes))
		copy(cp, codes)
		out[name] = cp
	}
	return out
}

// KnownPermission reports whether code belongs to the system catalog.
func KnownPermission(code string) bool {
	for _, p := range catalog {
		if p.Code == code {
			return true
		}
	}
	return false
}

// InvalidCodes returns the subset of codes not present in the catalog.
func InvalidCodes(codes []string) []string {
	var invalid []string
	for _, c := range codes {
		if !KnownPermission(c) {
			invalid = append(invalid, c)
		}
	}
	return invalid
}
