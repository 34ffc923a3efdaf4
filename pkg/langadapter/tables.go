package langadapter

// builtinTables returns the static classification tables for every language
// the reference tsdriver ships a grammar for. Node-type strings are taken
// from the grammars the teacher already targets (pkg/ast/register.go,
// pkg/semantic/analyzer/*/analyzer.go) plus go-tree-sitter's own grammar
// type names for the remaining languages.
func builtinTables() []Table {
	return []Table{
		goTable(),
		pythonTable(),
		javascriptTable("javascript"),
		javascriptTable("typescript"),
		javascriptTable("tsx"),
		javaTable(),
		phpTable(),
	}
}

func goTable() Table {
	return Table{
		Language:        "go",
		Module:          set("source_file"),
		Class:           set("type_declaration", "struct_type", "interface_type"),
		Function:        set("function_declaration", "method_declaration", "func_literal"),
		ParamList:       set("parameter_list"),
		Assign:          set("assignment_statement", "short_var_declaration", "var_declaration", "const_declaration"),
		AssignTarget:    set("expression_list"),
		IdentifierToken: set("identifier", "field_identifier", "package_identifier"),
		// selector_expression (pkg.Foo, recv.Field) is never a leaf, so it
		// never reaches IdentifierToken; a builder that wants the joined
		// name reconstructs it across the node's ENTER/EXIT instead.
		QualifiedName:   set("selector_expression"),
		StringToken:     set("interpreted_string_literal", "raw_string_literal"),
		Call:            set("call_expression"),
		Decorator:       set(), // Go has no decorators
		Import:          set("import_declaration", "import_spec"),
		Export:          set(), // visibility is name-case based, not syntactic
		Throw:           set(), // Go has no syntactic throw/raise node; panic is an ordinary call
		If:              set("if_statement"),
		While:           set(),
		For:             set("for_statement"),
		Try:             set(),
		Switch:          set("expression_switch_statement", "type_switch_statement"),
		Catch:           set(),
		Finally:         set(),
		Return:          set("return_statement"),
		AssignmentOperators: set("=", ":=", "+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "<<=", ">>="),
	}
}

func pythonTable() Table {
	return Table{
		Language:        "python",
		Module:          set("module"),
		Class:           set("class_definition"),
		Function:        set("function_definition", "lambda"),
		ParamList:       set("parameters", "lambda_parameters"),
		Assign:          set("assignment", "augmented_assignment", "named_expression"),
		AssignTarget:    set("pattern_list", "tuple_pattern"),
		IdentifierToken: set("identifier"),
		// attribute (self.foo) is never a leaf: tree-sitter-python gives it
		// an identifier child for each dotted segment, never one token for
		// the whole name. Builders that need "self.foo" as one name (DFG's
		// var_def/var_use) join across the attribute node's ENTER/EXIT.
		QualifiedName:   set("attribute"),
		StringToken:     set("string", "concatenated_string"),
		Call:            set("call"),
		Decorator:       set("decorator"),
		Import:          set("import_statement", "import_from_statement"),
		Export:          set(), // Python convention: __all__, handled textually by the normalizer
		Throw:           set("raise_statement"),
		Return:          set("return_statement"),
		If:              set("if_statement", "elif_clause"),
		While:           set("while_statement"),
		For:             set("for_statement"),
		Try:             set("try_statement"),
		Switch:          set("match_statement"),
		Catch:           set("except_clause"),
		Finally:         set("finally_clause"),
		AssignmentOperators: set("=", "+=", "-=", "*=", "/=", "//=", "%=", "**=", "&=", "|=", "^=", ">>=", "<<=", ":="),
	}
}

func javascriptTable(lang string) Table {
	return Table{
		Language:        lang,
		Module:          set("program"),
		Class:           set("class_declaration", "class"),
		Function: set("function_declaration", "function", "arrow_function", "method_definition",
			"generator_function_declaration"),
		ParamList:       set("formal_parameters"),
		Assign:          set("assignment_expression", "variable_declarator", "augmented_assignment_expression"),
		AssignTarget:    set("object_pattern", "array_pattern"),
		IdentifierToken: set("identifier", "property_identifier", "shorthand_property_identifier"),
		QualifiedName:   set("member_expression"),
		StringToken:     set("string", "template_string"),
		Call:            set("call_expression", "new_expression"),
		Decorator:       set("decorator"),
		Import:          set("import_statement", "import_clause"),
		Export:          set("export_statement"),
		Throw:           set("throw_statement"),
		Return:          set("return_statement"),
		If:              set("if_statement"),
		While:           set("while_statement", "do_statement"),
		For:             set("for_statement", "for_in_statement"),
		Try:             set("try_statement"),
		Switch:          set("switch_statement"),
		Catch:           set("catch_clause"),
		Finally:         set("finally_clause"),
		AssignmentOperators: set("=", "+=", "-=", "*=", "/=", "%=", "**=", "&=", "|=", "^=", "<<=", ">>=", ">>>=", "&&=", "||=", "??="),
	}
}

func javaTable() Table {
	return Table{
		Language:        "java",
		Module:          set("program"),
		Class:           set("class_declaration", "interface_declaration", "enum_declaration", "record_declaration"),
		Function:        set("method_declaration", "constructor_declaration", "lambda_expression"),
		ParamList:       set("formal_parameters"),
		Assign:          set("assignment_expression", "variable_declarator"),
		AssignTarget:    set(),
		IdentifierToken: set("identifier"),
		QualifiedName:   set("field_access"),
		StringToken:     set("string_literal"),
		Call:            set("method_invocation", "object_creation_expression"),
		Decorator:       set("annotation", "marker_annotation"),
		Import:          set("import_declaration"),
		Export:          set(),
		Throw:           set("throw_statement"),
		Return:          set("return_statement"),
		If:              set("if_statement"),
		While:           set("while_statement", "do_statement"),
		For:             set("for_statement", "enhanced_for_statement"),
		Try:             set("try_statement"),
		Switch:          set("switch_expression", "switch_statement"),
		Catch:           set("catch_clause"),
		Finally:         set("finally_clause"),
		AssignmentOperators: set("=", "+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "<<=", ">>=", ">>>="),
	}
}

func phpTable() Table {
	return Table{
		Language:        "php",
		Module:          set("program"),
		Class:           set("class_declaration", "interface_declaration", "trait_declaration"),
		Function:        set("function_definition", "method_declaration", "anonymous_function_creation_expression", "arrow_function"),
		ParamList:       set("formal_parameters"),
		Assign:          set("assignment_expression", "augmented_assignment_expression"),
		AssignTarget:    set("list_literal"),
		IdentifierToken: set("variable_name", "name"),
		QualifiedName:   set("member_access_expression"),
		StringToken:     set("string", "encapsed_string"),
		Call:            set("function_call_expression", "method_call_expression", "scoped_call_expression"),
		Decorator:       set("attribute_list"),
		Import:          set("namespace_use_declaration", "include_expression", "require_expression"),
		Export:          set(),
		Throw:           set("throw_expression"),
		Return:          set("return_statement"),
		If:              set("if_statement"),
		While:           set("while_statement", "do_statement"),
		For:             set("for_statement", "foreach_statement"),
		Try:             set("try_statement"),
		Switch:          set("switch_statement", "match_expression"),
		Catch:           set("catch_clause"),
		Finally:         set("finally_clause"),
		AssignmentOperators: set("=", "+=", "-=", "*=", "/=", ".=", "%=", "&=", "|=", "^=", "<<=", ">>=", "**="),
	}
}
