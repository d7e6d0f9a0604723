package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	GroupVersion = "policy.oso.dev/v1alpha1"
	Kind         = "Policy"
)

// Policy is the rule set the development server evaluates.
type Policy struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Rules []PolicyRule `json:"rules"`
}

// PolicyRule grants Actions on ResourceType. A rule is either role based
// (Roles, optionally through Relation) or attribute based (Attribute,
// optionally compared with Value).
type PolicyRule struct {
	Actions      []string `json:"actions"`
	ResourceType string   `json:"resourceType"`

	// Roles the actor must hold on the resource, or on the resource
	// reached through Relation.
	Roles    []string `json:"roles,omitempty"`
	Relation string   `json:"relation,omitempty"`

	// Attribute names a fact, e.g. is_public or has_status.
	Attribute string `json:"attribute,omitempty"`
	Value     string `json:"value,omitempty"`
}

func (r *PolicyRule) RoleBased() bool { return len(r.Roles) > 0 }

// Allows reports whether the rule covers action on resourceType.
func (r *PolicyRule) Allows(action, resourceType string) bool {
	if r.ResourceType != resourceType {
		return false
	}
	for _, a := range r.Actions {
		if a == action || a == "*" {
			return true
		}
	}
	return false
}

// DeepCopyInto copies the receiver into out
func (in *Policy) DeepCopyInto(out *Policy) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)

	if in.Rules != nil {
		out.Rules = make([]PolicyRule, len(in.Rules))
		for i := range in.Rules {
			in.Rules[i].DeepCopyInto(&out.Rules[i])
		}
	}
}

func (in *Policy) DeepCopy() *Policy {
	if in == nil {
		return nil
	}
	out := new(Policy)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyInto copies PolicyRule into out
func (in *PolicyRule) DeepCopyInto(out *PolicyRule) {
	*out = *in
	if in.Actions != nil {
		out.Actions = make([]string, len(in.Actions))
		copy(out.Actions, in.Actions)
	}
	if in.Roles != nil {
		out.Roles = make([]string, len(in.Roles))
		copy(out.Roles, in.Roles)
	}
}
