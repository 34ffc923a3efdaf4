package effects

// FrameworkTable is a condensed, name-keyed version of the teacher's
// LanguageMappings framework/route/annotation tables (pkg/semantic/mappings),
// trimmed to just the carrier -> framework-name lookup SPEC_FULL.md's
// framework-aware effect classification needs. The teacher's full mapping set
// (superglobals, DOM sources, CGI env vars, per-method input classification)
// belongs to whole-program taint modeling, which is out of scope here; this
// table keeps only the part that labels a call/decorator carrier with the
// framework it most likely belongs to.
type FrameworkTable struct {
	byLang map[string]map[string]string
}

// NewFrameworkTable builds the default table.
func NewFrameworkTable() *FrameworkTable {
	t := &FrameworkTable{byLang: make(map[string]map[string]string)}
	t.byLang["python"] = map[string]string{
		"app.route":        "flask",
		"Blueprint.route":  "flask",
		"APIRouter.get":    "fastapi",
		"APIRouter.post":   "fastapi",
		"APIRouter.put":    "fastapi",
		"APIRouter.delete": "fastapi",
		"path":             "django",
		"re_path":          "django",
		"url":              "django",
	}
	t.byLang["javascript"] = map[string]string{
		"app.get":    "express",
		"app.post":   "express",
		"app.put":    "express",
		"app.delete": "express",
		"app.use":    "express",
		"router.get": "express",
	}
	t.byLang["typescript"] = t.byLang["javascript"]
	t.byLang["tsx"] = t.byLang["javascript"]
	t.byLang["php"] = map[string]string{
		"Route.get":  "laravel",
		"Route.post": "laravel",
		"Route.put":  "laravel",
	}
	t.byLang["java"] = map[string]string{
		"GetMapping":     "spring",
		"PostMapping":    "spring",
		"PutMapping":     "spring",
		"DeleteMapping":  "spring",
		"RequestMapping": "spring",
		"RestController": "spring",
	}
	t.byLang["go"] = map[string]string{
		"mux.HandleFunc":  "gorilla-mux",
		"router.GET":      "gin",
		"router.POST":     "gin",
		"http.HandleFunc": "net/http",
	}
	return t
}

// Lookup returns the framework name for a carrier, or "" if unknown.
func (t *FrameworkTable) Lookup(language, carrier string) string {
	m, ok := t.byLang[language]
	if !ok {
		return ""
	}
	return m[carrier]
}
