package cu

import "testing"

// newCompletedUnit builds a Unit with its phase-2 indices already
// populated, bypassing reload()'s real Image-backed completion: the
// embedded sync.Once is consumed with a no-op so later calls through
// EnsureCompleted/FunctionsBySuffix/etc. see already-loaded state instead
// of dereferencing a nil Image.
func newCompletedUnit(funcs []*FunctionInfo, vars map[string][]VarRef) *Unit {
	u := &Unit{
		funcByQualName: map[string]*FunctionInfo{},
		varIndex:       vars,
	}
	for _, fn := range funcs {
		qn := fn.QualifiedName()
		u.funcByQualName[qn] = fn
		u.funcSuffixes = append(u.funcSuffixes, qn)
	}
	u.once.Do(func() {})
	u.completed = true
	return u
}

func TestAllFunctionsSortedByQualifiedName(t *testing.T) {
	u := newCompletedUnit([]*FunctionInfo{
		{Namespace: []string{"pkg"}, Name: "zeta"},
		{Namespace: []string{"pkg"}, Name: "alpha"},
	}, nil)

	fns, err := u.AllFunctions()
	if err != nil {
		t.Fatalf("AllFunctions: %v", err)
	}
	if len(fns) != 2 || fns[0].Name != "alpha" || fns[1].Name != "zeta" {
		t.Fatalf("got %+v", fns)
	}
}

func TestFunctionsBySuffixMatchesWholeOrQualifiedSuffix(t *testing.T) {
	u := newCompletedUnit([]*FunctionInfo{
		{Namespace: []string{"pkg", "inner"}, Name: "run"},
		{Namespace: []string{"pkg"}, Name: "run"},
		{Namespace: nil, Name: "other"},
	}, nil)

	matches, err := u.FunctionsBySuffix("run")
	if err != nil {
		t.Fatalf("FunctionsBySuffix: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2: %+v", len(matches), matches)
	}
}

func TestFunctionsBySuffixEmptyStringDoesNotMatchEverything(t *testing.T) {
	u := newCompletedUnit([]*FunctionInfo{
		{Namespace: []string{"pkg"}, Name: "run"},
		{Namespace: nil, Name: "main"},
	}, nil)

	matches, err := u.FunctionsBySuffix("")
	if err != nil {
		t.Fatalf("FunctionsBySuffix: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("got %d matches for an empty suffix, want 0 (no qualified name is \"\" or ends in \"::\"): %+v", len(matches), matches)
	}
}

func TestVariableNamesAndVariablesNamed(t *testing.T) {
	u := newCompletedUnit(nil, map[string][]VarRef{
		"count": {{}, {}},
		"total": {{}},
	})

	names, err := u.VariableNames()
	if err != nil {
		t.Fatalf("VariableNames: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("got %d names, want 2: %v", len(names), names)
	}

	refs, err := u.VariablesNamed("count")
	if err != nil {
		t.Fatalf("VariablesNamed: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d refs for count, want 2", len(refs))
	}

	if refs, err := u.VariablesNamed("missing"); err != nil || len(refs) != 0 {
		t.Fatalf("expected no refs for an unindexed name, got %v, %v", refs, err)
	}
}

func TestFunctionByQualifiedNameExactMatch(t *testing.T) {
	u := newCompletedUnit([]*FunctionInfo{
		{Namespace: []string{"pkg"}, Name: "run"},
	}, nil)

	fn, ok := u.FunctionByQualifiedName("pkg::run")
	if !ok || fn.Name != "run" {
		t.Fatalf("got %+v, %v", fn, ok)
	}
	if _, ok := u.FunctionByQualifiedName("run"); ok {
		t.Fatal("expected the bare name, without its namespace, not to match")
	}
}
