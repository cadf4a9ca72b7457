package query

// Query maps a field name to the Param constraining it. A field absent
// from the map means "unconstrained" for that field.
type Query map[string]Param

// Get returns the Param for a field and whether it was present.
func (q Query) Get(field string) (Param, bool) {
	p, ok := q[field]
	return p, ok
}

// Matcher lets a document type assert whether it satisfies every
// constrained field of a query, typically by testing each ParamTyped query
// field against the corresponding document field. index.Execute applies it
// as a final filter when the document type implements it; documents of a
// type that does not implement it are not filtered after the scan.
type Matcher interface {
	Matches(q Query) bool
}
