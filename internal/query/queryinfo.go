package query

// QueryInfo is the compiled form of a search. It carries everything needed
// to re-run the query against the same snapshot: the pagination token is a
// signed QueryInfo with an adjusted offset.
//
// SQL never contains a LIMIT or OFFSET clause; the runtime appends those
// when executing.
type QueryInfo struct {
	SQL    string        `json:"sql"`
	Params []interface{} `json:"params"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
	LoadID string        `json:"load_id"`
}

// NextPage returns a copy of q positioned at the following page.
func (q QueryInfo) NextPage() QueryInfo {
	next := q
	next.Offset = q.Offset + q.Limit
	return next
}

// PreviousPage returns a copy of q positioned at the preceding page, and
// whether a preceding page exists.
func (q QueryInfo) PreviousPage() (QueryInfo, bool) {
	if q.Offset <= 0 {
		return q, false
	}
	prev := q
	prev.Offset = q.Offset - q.Limit
	if prev.Offset < 0 {
		prev.Offset = 0
	}
	return prev, true
}
