package deps

import (
	"strings"

	"marcus/internal/task"
)

// CandidateEdge is a dependency proposed by an external inferer. From is
// the dependent, To the predecessor it would wait on.
type CandidateEdge struct {
	From       string
	To         string
	Type       task.DependencyType
	Confidence float64
	Reason     string
}

// Inferer proposes dependency edges over the current task set. The AI
// oracle implements this; ContractInferer is the deterministic fallback.
type Inferer interface {
	InferEdges(tasks []*task.Task) []CandidateEdge
}

// ContractInferer derives edges from subtask interface descriptors: when
// one subtask's requires text mentions terms of a sibling's provides
// contract, the consumer likely waits on the producer.
type ContractInferer struct {
	// Confidence assigned to matched edges. Contract text matching is
	// heuristic, so this sits at the enforcement boundary by default.
	Confidence float64
}

// InferEdges matches requires/provides descriptors pairwise.
func (ci *ContractInferer) InferEdges(tasks []*task.Task) []CandidateEdge {
	conf := ci.Confidence
	if conf == 0 {
		conf = 0.6
	}
	var out []CandidateEdge
	for _, consumer := range tasks {
		if consumer.Requires == "" {
			continue
		}
		req := strings.ToLower(consumer.Requires)
		for _, producer := range tasks {
			if producer.ID == consumer.ID || producer.Provides == "" {
				continue
			}
			if !contractMatch(req, strings.ToLower(producer.Provides)) {
				continue
			}
			out = append(out, CandidateEdge{
				From:       consumer.ID,
				To:         producer.ID,
				Type:       task.DepHard,
				Confidence: conf,
				Reason:     "requires matches provides contract of " + producer.ID,
			})
		}
	}
	return out
}

// contractMatch reports whether a requires descriptor references a
// provides contract. A token of the provides text longer than three
// characters appearing in the requires text counts as a reference.
func contractMatch(requires, provides string) bool {
	for _, tok := range strings.FieldsFunc(provides, func(r rune) bool {
		return r == ' ' || r == ',' || r == '{' || r == '}' || r == '(' || r == ')'
	}) {
		if len(tok) <= 3 {
			continue
		}
		if strings.Contains(requires, tok) {
			return true
		}
	}
	return false
}
