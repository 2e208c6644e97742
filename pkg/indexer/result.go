package indexer

// Outcome classifies the result of one indexing unit. The consumer
// switches on it exactly once; anything outside the taxonomy collapses
// to OutcomeUnknown.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomeNotFound
	OutcomeUnsupportedType
	OutcomeParseError
	OutcomeUnknown
)

// String names the outcome for logs and metrics labels.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeUnsupportedType:
		return "unsupported_type"
	case OutcomeParseError:
		return "parse_error"
	default:
		return "unknown"
	}
}

// Result is the closed outcome of one indexing unit. PublicMessage is
// what clients see in error_message; Err carries the internal detail
// for logs only.
type Result struct {
	Outcome       Outcome
	PublicMessage string
	Err           error
}

func success() Result {
	return Result{Outcome: OutcomeSuccess}
}

func failure(outcome Outcome, publicMessage string, err error) Result {
	return Result{Outcome: outcome, PublicMessage: publicMessage, Err: err}
}
