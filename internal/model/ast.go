package model

// AST is the client supplied description of a query. The CVR engine never
// interprets it; it is stored so the query can be re-executed and replayed.
type AST struct {
	Schema  string      `json:"schema,omitempty" yaml:"schema,omitempty"`
	Table   string      `json:"table" yaml:"table"`
	Alias   string      `json:"alias,omitempty" yaml:"alias,omitempty"`
	Select  []string    `json:"select,omitempty" yaml:"select,omitempty"`
	Where   []Condition `json:"where,omitempty" yaml:"where,omitempty"`
	OrderBy []Ordering  `json:"orderBy,omitempty" yaml:"orderBy,omitempty"`
	Limit   *int        `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// Condition is a simple "field op value" filter
type Condition struct {
	Field string `json:"field" yaml:"field"`
	Op    string `json:"op" yaml:"op"`
	Value any    `json:"value" yaml:"value"`
}

// Ordering is one "field direction" term of an ORDER BY
type Ordering struct {
	Field     string `json:"field" yaml:"field"`
	Direction string `json:"direction" yaml:"direction"`
}

// Clone returns a deep copy of the AST. Condition values are treated as
// immutable scalars.
func (a AST) Clone() AST {
	c := a
	if a.Select != nil {
		c.Select = append([]string(nil), a.Select...)
	}
	if a.Where != nil {
		c.Where = append([]Condition(nil), a.Where...)
	}
	if a.OrderBy != nil {
		c.OrderBy = append([]Ordering(nil), a.OrderBy...)
	}
	if a.Limit != nil {
		limit := *a.Limit
		c.Limit = &limit
	}
	return c
}
