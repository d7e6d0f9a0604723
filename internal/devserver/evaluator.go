package devserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/sukryu/gorm-oso/pkg/apis/policy/v1alpha1"
	"github.com/sukryu/gorm-oso/pkg/binding"
	"github.com/sukryu/gorm-oso/pkg/client"
	"github.com/sukryu/gorm-oso/pkg/errors"
)

const (
	factHasRole     = "has_role"
	factHasRelation = "has_relation"
)

// Evaluator turns policy rules into a SQL predicate over the caller's
// tables. Local facts come from the queries in the binding document,
// inserted facts from the FactStore.
type Evaluator struct {
	policy *v1alpha1.Policy
	facts  *FactStore
}

func NewEvaluator(policy *v1alpha1.Policy, facts *FactStore) *Evaluator {
	return &Evaluator{policy: policy.DeepCopy(), facts: facts}
}

// ListLocal returns a predicate over column matching the resourceType rows
// on which actor may perform action. Matching rules are ORed; no match
// yields a predicate that is never true.
func (e *Evaluator) ListLocal(ctx context.Context, cfg *binding.Config, actor client.Value, action, resourceType, column string) (string, error) {
	var preds []string
	for i := range e.policy.Rules {
		rule := &e.policy.Rules[i]
		if !rule.Allows(action, resourceType) {
			continue
		}

		var (
			p   string
			err error
		)
		if rule.RoleBased() {
			p, err = e.roleRule(ctx, cfg, rule, actor, column)
		} else {
			p, err = e.attributeRule(ctx, cfg, rule, column)
		}
		if err != nil {
			return "", err
		}
		if p != "" {
			preds = append(preds, p)
		}
	}

	if len(preds) == 0 {
		return "1 = 0", nil
	}
	return disjunction(preds), nil
}

func (e *Evaluator) roleRule(ctx context.Context, cfg *binding.Config, rule *v1alpha1.PolicyRule, actor client.Value, column string) (string, error) {
	if rule.Relation == "" {
		return e.grants(ctx, cfg, actor, rule.Roles, rule.ResourceType, column)
	}

	key, ok := findFact(cfg, func(k binding.FactKey) bool {
		return k.Name == factHasRelation && len(k.Args) == 3 &&
			k.Args[0].Type == rule.ResourceType && k.Args[1].Literal == rule.Relation && k.Args[2].Type != ""
	})
	if !ok {
		return "", errors.ErrInvalidInput.WithReasonf("no %s binding for %s.%s", factHasRelation, rule.ResourceType, rule.Relation)
	}

	grants, err := e.grants(ctx, cfg, actor, rule.Roles, key.Args[2].Type, "dst")
	if err != nil || grants == "" {
		return "", err
	}
	return fmt.Sprintf("%s IN (WITH rel(src, dst) AS (%s) SELECT src FROM rel WHERE %s)",
		column, cfg.Facts[key.String()].Query, grants), nil
}

// grants is a predicate over column matching the ids of target on which
// actor holds one of roles.
func (e *Evaluator) grants(ctx context.Context, cfg *binding.Config, actor client.Value, roles []string, target, column string) (string, error) {
	var preds []string

	key := binding.FactKey{Name: factHasRole, Args: []binding.Arg{
		binding.TypeArg(actor.Type), binding.TypeArg(binding.TypeString), binding.TypeArg(target),
	}}
	if f, ok := cfg.Facts[key.String()]; ok {
		actorLit, err := cfg.Literal(actor.Type, actor.ID)
		if err != nil {
			return "", err
		}
		roleLits := make([]string, len(roles))
		for i, r := range roles {
			if roleLits[i], err = cfg.Literal(binding.TypeString, r); err != nil {
				return "", err
			}
		}
		preds = append(preds, fmt.Sprintf(
			"%s IN (WITH r(actor, role, resource) AS (%s) SELECT resource FROM r WHERE actor = %s AND role IN (%s))",
			column, f.Query, actorLit, strings.Join(roleLits, ", ")))
	}

	var ids []string
	for _, f := range e.facts.List(ctx, factHasRole) {
		if len(f.Args) == 3 && f.Args[0] == actor && f.Args[1].Type == binding.TypeString &&
			contains(roles, f.Args[1].ID) && f.Args[2].Type == target {
			ids = append(ids, f.Args[2].ID)
		}
	}
	if len(ids) > 0 {
		p, err := cfg.InList(column, target, ids)
		if err != nil {
			return "", err
		}
		preds = append(preds, p)
	}

	return disjunction(preds), nil
}

func (e *Evaluator) attributeRule(ctx context.Context, cfg *binding.Config, rule *v1alpha1.PolicyRule, column string) (string, error) {
	var preds []string
	arity := 1
	if rule.Value != "" {
		arity = 2
	}

	key, ok := findFact(cfg, func(k binding.FactKey) bool {
		return k.Name == rule.Attribute && len(k.Args) == arity && k.Args[0].Type == rule.ResourceType
	})
	if ok {
		query := cfg.Facts[key.String()].Query
		if arity == 1 {
			preds = append(preds, fmt.Sprintf("%s IN (%s)", column, query))
		} else {
			lit, err := cfg.Literal(key.Args[1].Type, rule.Value)
			if err != nil {
				return "", err
			}
			preds = append(preds, fmt.Sprintf("%s IN (WITH a(id, val) AS (%s) SELECT id FROM a WHERE val = %s)", column, query, lit))
		}
	}

	var ids []string
	for _, f := range e.facts.List(ctx, rule.Attribute) {
		if len(f.Args) != arity || f.Args[0].Type != rule.ResourceType {
			continue
		}
		if arity == 2 && f.Args[1].ID != rule.Value {
			continue
		}
		ids = append(ids, f.Args[0].ID)
	}
	if len(ids) > 0 {
		p, err := cfg.InList(column, rule.ResourceType, ids)
		if err != nil {
			return "", err
		}
		preds = append(preds, p)
	}

	return disjunction(preds), nil
}

// findFact returns the first key, in sorted order, accepted by match.
func findFact(cfg *binding.Config, match func(binding.FactKey) bool) (binding.FactKey, bool) {
	for _, s := range cfg.FactKeys() {
		k, err := binding.ParseFactKey(s)
		if err != nil {
			continue
		}
		if match(k) {
			return k, true
		}
	}
	return binding.FactKey{}, false
}

func disjunction(preds []string) string {
	switch len(preds) {
	case 0:
		return ""
	case 1:
		return preds[0]
	}
	return "(" + strings.Join(preds, " OR ") + ")"
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
