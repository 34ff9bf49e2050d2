package diagnostics

import (
	"fmt"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// Fact is one logical fact fed to or derived by the rules kernel.
type Fact struct {
	Predicate string
	Args      []interface{}
}

// String renders the fact as a Datalog atom.
func (f Fact) String() string {
	args := make([]string, 0, len(f.Args))
	for _, arg := range f.Args {
		switch v := arg.(type) {
		case string:
			// Name constants pass through; everything else is quoted.
			if strings.HasPrefix(v, "/") {
				args = append(args, v)
			} else {
				args = append(args, fmt.Sprintf("%q", v))
			}
		case int:
			args = append(args, fmt.Sprintf("%d", v))
		case int64:
			args = append(args, fmt.Sprintf("%d", v))
		case float64:
			args = append(args, fmt.Sprintf("%f", v))
		default:
			args = append(args, fmt.Sprintf("%q", fmt.Sprintf("%v", v)))
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(args, ", "))
}

// Kernel evaluates a fixed Datalog rule set over a fact base. Each
// Evaluate builds a fresh store and runs stratified evaluation to
// fixpoint; queries read the derived relations. Single-writer, the
// core serializes access.
type Kernel struct {
	rules       string
	store       factstore.FactStore
	programInfo *analysis.ProgramInfo
}

// NewKernel creates a kernel over the given rule program.
func NewKernel(rules string) *Kernel {
	return &Kernel{rules: rules, store: factstore.NewSimpleInMemoryStore()}
}

// Evaluate loads the facts, appends the rules, and derives to fixpoint.
func (k *Kernel) Evaluate(facts []Fact) error {
	var sb strings.Builder
	for _, f := range facts {
		sb.WriteString(f.String())
		sb.WriteByte('\n')
	}
	sb.WriteString(k.rules)

	parsed, err := parse.Unit(strings.NewReader(sb.String()))
	if err != nil {
		return fmt.Errorf("parse rules: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(parsed, nil)
	if err != nil {
		return fmt.Errorf("analyze rules: %w", err)
	}
	strata, predToStratum, err := analysis.Stratify(analysis.Program{
		EdbPredicates: programInfo.EdbPredicates,
		IdbPredicates: programInfo.IdbPredicates,
		Rules:         programInfo.Rules,
	})
	if err != nil {
		return fmt.Errorf("stratify rules: %w", err)
	}
	k.programInfo = programInfo
	k.store = factstore.NewSimpleInMemoryStore()
	if _, err := engine.EvalStratifiedProgramWithStats(programInfo, strata, predToStratum, k.store); err != nil {
		return fmt.Errorf("evaluate rules: %w", err)
	}
	return nil
}

// Query returns all facts of the predicate from the last evaluation.
func (k *Kernel) Query(predicate string) []Fact {
	var results []Fact
	if k.programInfo == nil {
		return results
	}
	for pred := range k.programInfo.Decls {
		if pred.Symbol != predicate {
			continue
		}
		k.store.GetFacts(ast.NewQuery(pred), func(a ast.Atom) error {
			results = append(results, atomToFact(a))
			return nil
		})
		break
	}
	return results
}

func atomToFact(a ast.Atom) Fact {
	args := make([]interface{}, len(a.Args))
	for i, term := range a.Args {
		args[i] = baseTermToValue(term)
	}
	return Fact{Predicate: a.Predicate.Symbol, Args: args}
}

func baseTermToValue(term ast.BaseTerm) interface{} {
	switch t := term.(type) {
	case ast.Constant:
		switch t.Type {
		case ast.NumberType:
			return t.NumValue
		case ast.Float64Type:
			return t.Float64Value
		default:
			return t.Symbol
		}
	default:
		return fmt.Sprintf("%v", term)
	}
}
