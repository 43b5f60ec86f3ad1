package syntax

// ExpressionIsExpandable reports whether e contains a call worth drilling
// into. Only calls are expandable.
func ExpressionIsExpandable[R any](e Expression[R]) bool {
	_, ok := e.(Call[R])
	return ok
}

// StatementIsExpandable reports whether s contains at least one call.
func StatementIsExpandable[R any](s Statement[R]) bool {
	switch st := s.(type) {
	case ExpressionStatement[R]:
		return ExpressionIsExpandable(st.Expr)
	case If[R]:
		return ExpressionIsExpandable(st.Condition) || IsExpandable(st.Then) || IsExpandable(st.Else)
	default:
		return false
	}
}

// IsExpandable reports whether any statement in stmts is expandable.
func IsExpandable[R any](stmts []Statement[R]) bool {
	for _, s := range stmts {
		if StatementIsExpandable(s) {
			return true
		}
	}
	return false
}
