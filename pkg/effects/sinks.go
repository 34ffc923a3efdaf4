package effects

import "strings"

// SinkInfo is the trimmed per-callee taxonomy entry this package enriches
// EffectRows with. It carries the same vuln_types/severity/cwe fields the
// teacher's registry keeps (pkg/semantic/sink/registry.go), but keyed by
// qualified callee name instead of a regex matched against raw source text:
// the event-stream contract this pipeline builds on (pkg/cstevent) carries
// each leaf token's own text but never whole source lines, so the teacher's
// Pattern/CompiledPattern regex-over-text matching has no input to run
// against here. Name-keyed lookup is the closest equivalent reachable
// from a qualified-name reconstruction.
type SinkInfo struct {
	VulnTypes []string
	Severity  string
	CWE       string
}

// SinkTable is a read-only, per-language map from qualified callee name to
// SinkInfo, populated once at startup.
type SinkTable struct {
	byLang map[string]map[string]SinkInfo
}

// NewSinkTable builds the default taxonomy, ported from the teacher's
// registerPHPSinks/registerJavaScriptSinks/registerPythonSinks/
// registerGoSinks/registerJavaSinks (pkg/semantic/sink/registry.go), trimmed
// to the subset expressible as a qualified name rather than a regex.
func NewSinkTable() *SinkTable {
	t := &SinkTable{byLang: make(map[string]map[string]SinkInfo)}
	t.register("php", map[string]SinkInfo{
		"mysql_query":       {[]string{"sql_injection"}, "critical", "CWE-89"},
		"mysqli_query":      {[]string{"sql_injection"}, "critical", "CWE-89"},
		"exec":              {[]string{"command_injection"}, "critical", "CWE-78"},
		"shell_exec":        {[]string{"command_injection"}, "critical", "CWE-78"},
		"system":            {[]string{"command_injection"}, "critical", "CWE-78"},
		"passthru":          {[]string{"command_injection"}, "critical", "CWE-78"},
		"popen":             {[]string{"command_injection"}, "high", "CWE-78"},
		"proc_open":         {[]string{"command_injection"}, "high", "CWE-78"},
		"eval":              {[]string{"code_execution"}, "critical", "CWE-95"},
		"assert":            {[]string{"code_execution"}, "high", "CWE-95"},
		"create_function":   {[]string{"code_execution"}, "high", "CWE-95"},
		"include":           {[]string{"file_inclusion"}, "high", "CWE-98"},
		"include_once":      {[]string{"file_inclusion"}, "high", "CWE-98"},
		"require":           {[]string{"file_inclusion"}, "high", "CWE-98"},
		"require_once":      {[]string{"file_inclusion"}, "high", "CWE-98"},
		"file_get_contents": {[]string{"path_traversal"}, "medium", "CWE-22"},
		"file_put_contents": {[]string{"path_traversal"}, "medium", "CWE-22"},
		"fopen":             {[]string{"path_traversal"}, "medium", "CWE-22"},
		"readfile":          {[]string{"path_traversal"}, "medium", "CWE-22"},
		"unlink":            {[]string{"path_traversal"}, "medium", "CWE-22"},
		"unserialize":       {[]string{"deserialization"}, "high", "CWE-502"},
		"curl_exec":         {[]string{"ssrf"}, "medium", "CWE-918"},
		"simplexml_load_string": {[]string{"xxe"}, "high", "CWE-611"},
	})
	t.register("javascript", map[string]SinkInfo{
		"eval":                  {[]string{"code_execution"}, "critical", "CWE-95"},
		"Function":              {[]string{"code_execution"}, "critical", "CWE-95"},
		"setTimeout":            {[]string{"code_execution"}, "medium", "CWE-95"},
		"setInterval":           {[]string{"code_execution"}, "medium", "CWE-95"},
		"document.write":        {[]string{"xss"}, "high", "CWE-79"},
		"document.writeln":      {[]string{"xss"}, "high", "CWE-79"},
		"insertAdjacentHTML":    {[]string{"xss"}, "high", "CWE-79"},
		"exec":                  {[]string{"command_injection"}, "critical", "CWE-78"},
		"execSync":              {[]string{"command_injection"}, "critical", "CWE-78"},
		"spawn":                 {[]string{"command_injection"}, "high", "CWE-78"},
		"readFile":              {[]string{"path_traversal"}, "medium", "CWE-22"},
		"readFileSync":          {[]string{"path_traversal"}, "medium", "CWE-22"},
		"writeFile":             {[]string{"path_traversal"}, "medium", "CWE-22"},
	})
	t.register("typescript", t.byLang["javascript"])
	t.register("tsx", t.byLang["javascript"])
	t.register("python", map[string]SinkInfo{
		"eval":              {[]string{"code_execution"}, "critical", "CWE-95"},
		"exec":              {[]string{"code_execution"}, "critical", "CWE-95"},
		"compile":           {[]string{"code_execution"}, "medium", "CWE-95"},
		"os.system":         {[]string{"command_injection"}, "critical", "CWE-78"},
		"os.popen":          {[]string{"command_injection"}, "critical", "CWE-78"},
		"subprocess.call":   {[]string{"command_injection"}, "high", "CWE-78"},
		"subprocess.run":    {[]string{"command_injection"}, "high", "CWE-78"},
		"subprocess.Popen":  {[]string{"command_injection"}, "high", "CWE-78"},
		"pickle.loads":      {[]string{"deserialization"}, "high", "CWE-502"},
		"pickle.load":       {[]string{"deserialization"}, "high", "CWE-502"},
		"yaml.load":         {[]string{"deserialization"}, "high", "CWE-502"},
	})
	t.register("go", map[string]SinkInfo{
		"exec.Command":        {[]string{"command_injection"}, "high", "CWE-78"},
		"exec.CommandContext":  {[]string{"command_injection"}, "high", "CWE-78"},
		"os.Open":              {[]string{"path_traversal"}, "medium", "CWE-22"},
		"os.ReadFile":          {[]string{"path_traversal"}, "medium", "CWE-22"},
		"ioutil.ReadFile":      {[]string{"path_traversal"}, "medium", "CWE-22"},
		"template.HTML":        {[]string{"xss"}, "high", "CWE-79"},
		"http.Get":             {[]string{"ssrf"}, "medium", "CWE-918"},
		"http.Post":            {[]string{"ssrf"}, "medium", "CWE-918"},
	})
	t.register("java", map[string]SinkInfo{
		"Runtime.exec":          {[]string{"command_injection"}, "critical", "CWE-78"},
		"ProcessBuilder":        {[]string{"command_injection"}, "high", "CWE-78"},
		"Statement.executeQuery": {[]string{"sql_injection"}, "critical", "CWE-89"},
		"Statement.execute":     {[]string{"sql_injection"}, "critical", "CWE-89"},
		"ScriptEngine.eval":     {[]string{"code_execution"}, "high", "CWE-95"},
		"ObjectInputStream.readObject": {[]string{"deserialization"}, "high", "CWE-502"},
	})
	return t
}

func (t *SinkTable) register(lang string, m map[string]SinkInfo) {
	t.byLang[lang] = m
}

// Lookup matches a qualified callee name against the taxonomy. It falls back
// to the last dotted segment (the bare method/function name) when the fully
// qualified name has no exact entry, mirroring the teacher's IsSinkCall
// funcName-or-className::funcName fallback.
func (t *SinkTable) Lookup(language, carrier string) *SinkInfo {
	m, ok := t.byLang[language]
	if !ok {
		return nil
	}
	if info, ok := m[carrier]; ok {
		return &info
	}
	if idx := strings.LastIndex(carrier, "."); idx >= 0 {
		bare := carrier[idx+1:]
		if info, ok := m[bare]; ok {
			return &info
		}
	}
	return nil
}
