package v1alpha1

import (
	"encoding/json"
	"os"

	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/sukryu/gorm-oso/pkg/errors"
)

// LoadPolicy parses a YAML policy document. The document is converted to
// JSON first so the embedded metav1 types decode through their json tags.
func LoadPolicy(data []byte) (*Policy, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.ErrInvalidInput.WithReasonf("policy: %v", err)
	}
	if raw == nil {
		return nil, errors.ErrInvalidInput.WithReason("policy: empty document")
	}
	js, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.ErrInvalidInput.WithReasonf("policy: %v", err)
	}

	var p Policy
	if err := json.Unmarshal(js, &p); err != nil {
		return nil, errors.ErrInvalidInput.WithReasonf("policy: %v", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ErrInvalidConfig.WithReasonf("read policy: %v", err)
	}
	return LoadPolicy(data)
}

func (p *Policy) Validate() error {
	var errs field.ErrorList

	if p.APIVersion != "" && p.APIVersion != GroupVersion {
		errs = append(errs, field.Invalid(field.NewPath("apiVersion"), p.APIVersion, "expected "+GroupVersion))
	}
	if p.Kind != "" && p.Kind != Kind {
		errs = append(errs, field.Invalid(field.NewPath("kind"), p.Kind, "expected "+Kind))
	}

	rules := field.NewPath("rules")
	if len(p.Rules) == 0 {
		errs = append(errs, field.Required(rules, "at least one rule is required"))
	}
	for i := range p.Rules {
		errs = append(errs, p.Rules[i].validate(rules.Index(i))...)
	}

	if len(errs) > 0 {
		return errors.ErrInvalidInput.WithReason(errs.ToAggregate().Error())
	}
	return nil
}

func (r *PolicyRule) validate(path *field.Path) field.ErrorList {
	var errs field.ErrorList

	if len(r.Actions) == 0 {
		errs = append(errs, field.Required(path.Child("actions"), ""))
	}
	if r.ResourceType == "" {
		errs = append(errs, field.Required(path.Child("resourceType"), ""))
	}

	switch {
	case r.RoleBased() && r.Attribute != "":
		errs = append(errs, field.Invalid(path.Child("attribute"), r.Attribute, "roles and attribute are mutually exclusive"))
	case !r.RoleBased() && r.Attribute == "":
		errs = append(errs, field.Required(path, "one of roles or attribute is required"))
	}
	if r.Relation != "" && !r.RoleBased() {
		errs = append(errs, field.Invalid(path.Child("relation"), r.Relation, "relation requires roles"))
	}
	if r.Value != "" && r.Attribute == "" {
		errs = append(errs, field.Invalid(path.Child("value"), r.Value, "value requires attribute"))
	}
	return errs
}
