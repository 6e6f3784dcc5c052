package services

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/position"
	"github.com/iota-uz/orgtree/pkg/configuration"
)

// KindPolicy holds the structural limits of one node kind. MaxChildren 0
// disables the fan-out check.
type KindPolicy struct {
	Encoding    position.Encoding `yaml:"encoding"`
	MaxDepth    int               `yaml:"max_depth"`
	MaxChildren int               `yaml:"max_children"`
	// Related kinds are deactivated alongside a cascade that asks for it.
	Related []node.Kind `yaml:"related"`
}

type Policy struct {
	Kinds          map[node.Kind]KindPolicy `yaml:"kinds"`
	AuditBatchSize int                      `yaml:"audit_batch_size"`
}

const (
	defaultMaxDepth       = 10
	defaultAuditBatchSize = 500
)

func DefaultPolicy() Policy {
	return Policy{
		Kinds: map[node.Kind]KindPolicy{
			node.KindOrganization: {
				Encoding: position.EncodingPath,
				MaxDepth: defaultMaxDepth,
				Related:  []node.Kind{node.KindEnterprise, node.KindDepartment},
			},
			node.KindEnterprise: {
				Encoding: position.EncodingPath,
				MaxDepth: defaultMaxDepth,
			},
			node.KindDepartment: {
				Encoding:    position.EncodingRange,
				MaxDepth:    8,
				MaxChildren: 20,
			},
		},
		AuditBatchSize: defaultAuditBatchSize,
	}
}

// PolicyFromConfig builds the policy from environment options and, when
// PolicyPath is set, overlays the YAML file found there.
func PolicyFromConfig(opts configuration.HierarchyOptions) (Policy, error) {
	p := DefaultPolicy()
	p.AuditBatchSize = opts.AuditBatchSize

	encodings := map[node.Kind]string{
		node.KindDepartment:   opts.DepartmentEncoding,
		node.KindOrganization: opts.OrganizationEncoding,
		node.KindEnterprise:   opts.EnterpriseEncoding,
	}
	for kind, raw := range encodings {
		enc, err := position.ParseEncoding(raw)
		if err != nil {
			return Policy{}, err
		}
		kp := p.Kinds[kind]
		kp.Encoding = enc
		kp.MaxDepth = opts.MaxDepth
		if kind == node.KindDepartment {
			kp.MaxDepth = opts.MaxDepartmentDepth
			kp.MaxChildren = opts.MaxDepartmentChildren
		}
		p.Kinds[kind] = kp
	}

	if opts.PolicyPath == "" {
		return p.normalized(), nil
	}
	return LoadPolicyFile(opts.PolicyPath, p)
}

// LoadPolicyFile overlays the YAML document at path onto base. Kinds absent
// from the file keep their base values; zero fields inside a listed kind do
// too.
func LoadPolicyFile(path string, base Policy) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, errors.Wrapf(err, "read policy %s", path)
	}
	return ParsePolicy(raw, base)
}

func ParsePolicy(raw []byte, base Policy) (Policy, error) {
	var doc Policy
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Policy{}, errors.Wrap(err, "parse policy")
	}
	out := base.clone()
	if doc.AuditBatchSize > 0 {
		out.AuditBatchSize = doc.AuditBatchSize
	}
	for kind, kp := range doc.Kinds {
		if _, err := node.ParseKind(string(kind)); err != nil {
			return Policy{}, err
		}
		cur := out.Kinds[kind]
		if kp.Encoding != "" {
			enc, err := position.ParseEncoding(string(kp.Encoding))
			if err != nil {
				return Policy{}, fmt.Errorf("kind %s: %w", kind, err)
			}
			cur.Encoding = enc
		}
		if kp.MaxDepth < 0 || kp.MaxChildren < 0 {
			return Policy{}, fmt.Errorf("kind %s: limits must not be negative", kind)
		}
		if kp.MaxDepth > 0 {
			cur.MaxDepth = kp.MaxDepth
		}
		if kp.MaxChildren > 0 {
			cur.MaxChildren = kp.MaxChildren
		}
		if kp.Related != nil {
			for _, rel := range kp.Related {
				if _, err := node.ParseKind(string(rel)); err != nil {
					return Policy{}, fmt.Errorf("kind %s: %w", kind, err)
				}
				if rel == kind {
					return Policy{}, fmt.Errorf("kind %s cannot list itself as related", kind)
				}
			}
			cur.Related = append([]node.Kind(nil), kp.Related...)
		}
		out.Kinds[kind] = cur
	}
	return out.normalized(), nil
}

func (p Policy) clone() Policy {
	out := Policy{Kinds: make(map[node.Kind]KindPolicy, len(p.Kinds)), AuditBatchSize: p.AuditBatchSize}
	for k, kp := range p.Kinds {
		kp.Related = append([]node.Kind(nil), kp.Related...)
		out.Kinds[k] = kp
	}
	return out
}

func (p Policy) normalized() Policy {
	if p.Kinds == nil {
		p.Kinds = map[node.Kind]KindPolicy{}
	}
	for _, k := range node.Kinds {
		kp := p.Kinds[k]
		if kp.Encoding == "" {
			kp.Encoding = position.EncodingPath
		}
		if kp.MaxDepth <= 0 {
			kp.MaxDepth = defaultMaxDepth
		}
		p.Kinds[k] = kp
	}
	if p.AuditBatchSize <= 0 {
		p.AuditBatchSize = defaultAuditBatchSize
	}
	return p
}

func (p Policy) For(kind node.Kind) KindPolicy {
	kp, ok := p.Kinds[kind]
	if !ok {
		return KindPolicy{Encoding: position.EncodingPath, MaxDepth: defaultMaxDepth}
	}
	return kp
}
