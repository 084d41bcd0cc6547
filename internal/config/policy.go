package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atlas-desktop/trading-backend/internal/ids"
	"github.com/atlas-desktop/trading-backend/internal/risk"
)

// policyRuleDoc is the on-disk shape of one policy entry, per
// spec.md §6: a `type` tag discriminating PositionLimit, InventoryLimit,
// and KillSwitch, each with their own optional fields.
type policyRuleDoc struct {
	Type        string   `yaml:"type"`
	MarketID    *string  `yaml:"market_id,omitempty"`
	MaxSize     *float64 `yaml:"max_size,omitempty"`
	MaxValueUSD *float64 `yaml:"max_value_usd,omitempty"`
	Enabled     *bool    `yaml:"enabled,omitempty"`
}

type policyDoc struct {
	Policies []policyRuleDoc `yaml:"policies"`
}

// LoadPolicyFile reads a YAML policy document and compiles it into
// immutable risk.Rule values.
func LoadPolicyFile(path string) ([]risk.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading policy file %s: %w", path, err)
	}
	return ParsePolicyDocument(data)
}

// ParsePolicyDocument compiles raw YAML/JSON bytes into risk.Rule
// values (JSON is valid YAML, so one parser covers both per spec.md §6).
func ParsePolicyDocument(data []byte) ([]risk.Rule, error) {
	var doc policyDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parsing policy document: %w", err)
	}

	rules := make([]risk.Rule, 0, len(doc.Policies))
	for i, entry := range doc.Policies {
		rule, err := compileRule(entry)
		if err != nil {
			return nil, fmt.Errorf("config: policy entry %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func compileRule(entry policyRuleDoc) (risk.Rule, error) {
	switch entry.Type {
	case "PositionLimit":
		if entry.MaxSize == nil {
			return risk.Rule{}, fmt.Errorf("PositionLimit requires max_size")
		}
		var marketID *ids.MarketID
		if entry.MarketID != nil {
			m := ids.MarketID(*entry.MarketID)
			marketID = &m
		}
		return risk.NewPositionLimitRule(marketID, decimal.NewFromFloat(*entry.MaxSize)), nil

	case "InventoryLimit":
		if entry.MaxValueUSD == nil {
			return risk.Rule{}, fmt.Errorf("InventoryLimit requires max_value_usd")
		}
		return risk.NewInventoryLimitRule(decimal.NewFromFloat(*entry.MaxValueUSD)), nil

	case "KillSwitch":
		enabled := entry.Enabled != nil && *entry.Enabled
		return risk.NewKillSwitchRule(enabled), nil

	default:
		return risk.Rule{}, fmt.Errorf("unknown policy type %q", entry.Type)
	}
}

// EmitPolicyDocument renders rules back to YAML. Round-tripping through
// LoadPolicyFile/EmitPolicyDocument preserves semantics, not byte
// layout, per spec.md §6's documented round-trip contract.
func EmitPolicyDocument(rules []risk.Rule) ([]byte, error) {
	doc := policyDoc{Policies: make([]policyRuleDoc, 0, len(rules))}
	for _, r := range rules {
		switch r.Kind {
		case risk.RulePositionLimit:
			maxSize, _ := r.MaxSize.Float64()
			entry := policyRuleDoc{Type: "PositionLimit", MaxSize: &maxSize}
			if r.MarketID != nil {
				m := string(*r.MarketID)
				entry.MarketID = &m
			}
			doc.Policies = append(doc.Policies, entry)
		case risk.RuleInventoryLimit:
			maxValueUSD, _ := r.MaxValueUSD.Float64()
			doc.Policies = append(doc.Policies, policyRuleDoc{Type: "InventoryLimit", MaxValueUSD: &maxValueUSD})
		case risk.RuleKillSwitch:
			enabled := r.Enabled
			doc.Policies = append(doc.Policies, policyRuleDoc{Type: "KillSwitch", Enabled: &enabled})
		}
	}
	return yaml.Marshal(doc)
}
