package ingest

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
)

// Policy is a compiled CEL acceptance expression over a normalized event.
//
// Variables: amount (double), from, to, facilitator, hash (string),
// block_height, timestamp (int).
type Policy struct {
	expr    string
	program cel.Program
}

// CompilePolicy compiles expr. An empty expression yields a nil policy,
// which accepts everything.
func CompilePolicy(expr string) (*Policy, error) {
	if expr == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("from", cel.StringType),
		cel.Variable("to", cel.StringType),
		cel.Variable("facilitator", cel.StringType),
		cel.Variable("hash", cel.StringType),
		cel.Variable("block_height", cel.IntType),
		cel.Variable("timestamp", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: ingest policy: %w", domain.ErrInvalidInput, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: ingest policy must return bool, got %s", domain.ErrInvalidInput, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: ingest policy: %w", domain.ErrInvalidInput, err)
	}
	return &Policy{expr: expr, program: program}, nil
}

// Allow evaluates the policy against tx.
func (p *Policy) Allow(tx *domain.Transaction) (bool, error) {
	if p == nil {
		return true, nil
	}

	out, _, err := p.program.Eval(map[string]any{
		"amount":       tx.Amount.InexactFloat64(),
		"from":         tx.From,
		"to":           tx.To,
		"facilitator":  tx.Facilitator,
		"hash":         tx.Hash,
		"block_height": tx.BlockHeight,
		"timestamp":    tx.Timestamp,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate ingest policy: %w", err)
	}

	allowed, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("ingest policy returned %s", out.Type())
	}
	return bool(allowed), nil
}

// String returns the source expression.
func (p *Policy) String() string {
	if p == nil {
		return ""
	}
	return p.expr
}
