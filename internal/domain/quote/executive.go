package quote

import "strings"

// DefaultExecutiveTitle is used for executives missing from the title map.
const DefaultExecutiveTitle = "Asistente Comercial"

// executives lists the commercial executives in display order with their
// job title as printed on proposals.
var executives = []struct {
	Name  string
	Title string
}{
	{"Kery Blanco", "Director Médico Comercial"},
	{"Maria Alejandra Coria", "Asistente Comercial"},
	{"Stephanie Calambrogio", "Asistente Comercial"},
	{"Ana Príncipe", "Asistente Comercial"},
	{"Franco Salgado", "Customer Success"},
	{"Patricia Cánepa", "Ejecutivo VIP"},
}

// emailToExecutive maps login emails to the executive signing proposals.
var emailToExecutive = map[string]string{
	"franco.salgado@doktuz.com":        "Franco Salgado",
	"ana.principe@doktuz.com":          "Ana Príncipe",
	"asistente.comercial@doktuz.com":   "Maria Alejandra Coria", // shared account
	"maria.coria@doktuz.com":           "Maria Alejandra Coria",
	"maria.alejandra.coria@doktuz.com": "Maria Alejandra Coria",
	"stephanie.calambrogio@doktuz.com": "Stephanie Calambrogio",
	"kery.blanco@doktuz.com":           "Kery Blanco",
	"patricia.canepa@doktuz.com":       "Patricia Cánepa",
	"patricia.cánepa@doktuz.com":       "Patricia Cánepa",
	"admin@doktuz.com":                 "Franco Salgado",
}

// ExecutiveNames returns the known executives in display order.
func ExecutiveNames() []string {
	out := make([]string, len(executives))
	for i, e := range executives {
		out[i] = e.Name
	}
	return out
}

// ExecutiveTitle returns the job title printed for executive.
func ExecutiveTitle(executive string) string {
	name := strings.TrimSpace(executive)
	for _, e := range executives {
		if e.Name == name {
			return e.Title
		}
	}
	return DefaultExecutiveTitle
}

// ExecutiveFromSession picks the executive for the signed-in user: by email
// first, then by a display name that matches a known executive, else the
// first executive.
func ExecutiveFromSession(email, name string) string {
	if e := strings.ToLower(strings.TrimSpace(email)); e != "" {
		if exec, ok := emailToExecutive[e]; ok {
			return exec
		}
	}
	n := strings.TrimSpace(name)
	for _, e := range executives {
		if e.Name == n {
			return n
		}
	}
	return executives[0].Name
}
