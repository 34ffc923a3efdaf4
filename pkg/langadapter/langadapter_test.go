package langadapter

import "testing"

func TestRegistryResolvesBuiltinLanguages(t *testing.T) {
	r := NewRegistry()
	for _, lang := range []string{"go", "python", "javascript", "typescript", "tsx", "java", "php"} {
		if r.Get(lang) == nil {
			t.Errorf("expected a built-in adapter for %q", lang)
		}
	}
	if r.Get("cobol") != nil {
		t.Errorf("expected no adapter for an unregistered language")
	}
}

func TestPythonAdapterClassifiesCoreConstructs(t *testing.T) {
	a := NewRegistry().Get("python")
	if a == nil {
		t.Fatal("expected a python adapter")
	}
	if !a.IsClass("class_definition") {
		t.Error("expected class_definition to classify as a class")
	}
	if !a.IsFunction("function_definition") {
		t.Error("expected function_definition to classify as a function")
	}
	if !a.IsDecorator("decorator") {
		t.Error("expected decorator to classify as a decorator")
	}
	if !a.IsThrow("raise_statement") {
		t.Error("expected raise_statement to classify as a throw")
	}
	if !a.IsAssignmentOperator("=") || !a.IsAssignmentOperator(":=") {
		t.Error("expected = and := to be assignment operators")
	}
	if a.IsAssignmentOperator("==") {
		t.Error("equality operator must not classify as an assignment operator")
	}
}

// Go's table lists no Decorator/Throw/Export node types at all, since the
// language has no syntax for them; the adapter must report false rather
// than falling back to a fuzzy match for an empty set.
func TestGoAdapterHasNoDecoratorsOrThrows(t *testing.T) {
	a := NewRegistry().Get("go")
	if a == nil {
		t.Fatal("expected a go adapter")
	}
	if a.IsDecorator("decorator") {
		t.Error("go has no decorator syntax; IsDecorator must stay false")
	}
	if a.IsThrow("panic_call") {
		t.Error("go has no syntactic throw node; IsThrow must stay false")
	}
	if !a.IsCall("call_expression") {
		t.Error("expected call_expression to classify as a call")
	}
}

// The fuzzy fallback lets an adapter survive a node-type name it has never
// seen before, per spec.md §4.1 ("fuzzy recognition... to survive minor
// grammar drift"), as long as the type string contains the marker substring.
func TestFuzzyFallbackSurvivesUnknownNodeTypes(t *testing.T) {
	a := NewRegistry().Get("python")
	if !a.IsCall("some_future_call_node") {
		t.Error("expected an unlisted *_call_* node type to still classify as a call via the fuzzy fallback")
	}
	if !a.IsImport("future_import_decl") {
		t.Error("expected an unlisted *import* node type to still classify as an import via the fuzzy fallback")
	}
	if a.IsCall("some_future_node") {
		t.Error("a node type with no marker substring must not classify as a call")
	}
}

func TestRegisterOverridesBuiltinAdapter(t *testing.T) {
	r := NewRegistry()
	custom := New(Table{Language: "go", Call: set("invoke_expression")})
	r.Register("go", custom)
	if got := r.Get("go"); got != custom {
		t.Error("expected Register to override the built-in go adapter")
	}
	if !r.Get("go").IsCall("invoke_expression") {
		t.Error("expected the overridden adapter's table to take effect")
	}
}
