package opa

import (
	"context"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
)

const (
	ConcernsQuery = "data.io.vdcmigrator.concerns"

	CategoryCritical    = "Critical"
	CategoryWarning     = "Warning"
	CategoryInformation = "Information"
)

type Concern struct {
	ID         string
	Label      string
	Category   string
	Assessment string
}

func (c Concern) String() string {
	label := c.Label
	if label == "" {
		label = c.ID
	}
	if c.Assessment == "" {
		return label
	}
	return fmt.Sprintf("%s: %s", label, c.Assessment)
}

// Gate evaluates the compiled policies against one VM at a time. Critical concerns
// block the migration, the other categories are only logged.
type Gate struct {
	preparedQuery rego.PreparedEvalQuery
}

func NewGateFromDir(policiesDir string) (*Gate, error) {
	policies, err := NewPolicyReader().ReadPolicies(policiesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read policies: %w", err)
	}
	return NewGate(policies)
}

func NewGate(policies map[string]string) (*Gate, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("no policies provided for validation")
	}

	g := &Gate{}
	if err := g.compilePolicies(policies); err != nil {
		return nil, fmt.Errorf("failed to compile policies: %w", err)
	}

	zap.S().Named("opa").Infof("policy gate initialized with %d policies", len(policies))
	return g, nil
}

func (g *Gate) compilePolicies(policies map[string]string) error {
	compiler := ast.NewCompiler()
	modules := make(map[string]*ast.Module)

	for filename, content := range policies {
		module, err := ast.ParseModuleWithOpts(filename, content, ast.ParserOptions{
			RegoVersion: ast.RegoV1,
		})
		if err != nil {
			return fmt.Errorf("failed to parse policy %s: %w", filename, err)
		}
		modules[filename] = module
	}

	compiler.Compile(modules)
	if compiler.Failed() {
		return fmt.Errorf("policy compilation failed: %v", compiler.Errors)
	}

	r := rego.New(
		rego.Query(ConcernsQuery),
		rego.Compiler(compiler),
		rego.SetRegoVersion(ast.RegoV1),
	)

	preparedQuery, err := r.PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare rego query: %w", err)
	}

	g.preparedQuery = preparedQuery
	return nil
}

// Concerns returns every concern the policies raise for input, in evaluation order.
func (g *Gate) Concerns(ctx context.Context, input any) ([]Concern, error) {
	resultSet, err := g.preparedQuery.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}

	if len(resultSet) == 0 || len(resultSet[0].Expressions) == 0 {
		return nil, nil
	}

	raw, ok := resultSet[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from policy evaluation: %T", resultSet[0].Expressions[0].Value)
	}

	concerns := make([]Concern, 0, len(raw))
	for _, c := range raw {
		m, ok := c.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected concern data type: got %T, expected map[string]any", c)
		}
		concern := Concern{}
		if id, ok := m["id"].(string); ok {
			concern.ID = id
		}
		if label, ok := m["label"].(string); ok {
			concern.Label = label
		}
		if category, ok := m["category"].(string); ok {
			concern.Category = category
		}
		if assessment, ok := m["assessment"].(string); ok {
			concern.Assessment = assessment
		}
		concerns = append(concerns, concern)
	}
	return concerns, nil
}

func (g *Gate) Violations(ctx context.Context, input any) ([]string, error) {
	concerns, err := g.Concerns(ctx, input)
	if err != nil {
		return nil, err
	}

	log := zap.S().Named("opa")
	var violations []string
	for _, c := range concerns {
		if strings.EqualFold(c.Category, CategoryCritical) {
			violations = append(violations, c.String())
			continue
		}
		log.Infof("%s concern: %s", c.Category, c)
	}
	return violations, nil
}
