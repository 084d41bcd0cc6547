// Package risk implements the Policy Risk Engine: a declarative,
// pure rule evaluator gated by a single global kill-switch.
package risk

import (
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/ids"
)

// Context is the ephemeral, per-order input to a risk evaluation.
type Context struct {
	MarketID          ids.MarketID
	CurrentPosition   decimal.Decimal
	ProposedSize      decimal.Decimal // signed: buy positive, sell negative
	InventoryValueUSD decimal.Decimal
}

// Decision is the outcome of an evaluation.
type Decision struct {
	Allowed          bool
	ViolatedPolicies []string
}

// RuleKind discriminates the PolicyRule variants.
type RuleKind int

const (
	RulePositionLimit RuleKind = iota
	RuleInventoryLimit
	RuleKillSwitch
)

// Rule is a tagged-variant PolicyRule. Exactly one of the Kind-specific
// fields is meaningful depending on Kind. Rules are immutable once
// constructed; the Engine never mutates a Rule, and UpdateRules
// replaces the whole slice.
type Rule struct {
	Kind RuleKind
	Name string

	// PositionLimit
	MarketID *ids.MarketID // nil => global (applies to every market)
	MaxSize  decimal.Decimal

	// InventoryLimit
	MaxValueUSD decimal.Decimal

	// KillSwitch
	Enabled bool
}

// NewPositionLimitRule builds a PositionLimit rule, optionally scoped
// to a single market.
func NewPositionLimitRule(marketID *ids.MarketID, maxSize decimal.Decimal) Rule {
	name := "PositionLimit"
	return Rule{Kind: RulePositionLimit, Name: name, MarketID: marketID, MaxSize: maxSize}
}

// NewInventoryLimitRule builds an InventoryLimit rule.
func NewInventoryLimitRule(maxValueUSD decimal.Decimal) Rule {
	return Rule{Kind: RuleInventoryLimit, Name: "InventoryLimit", MaxValueUSD: maxValueUSD}
}

// NewKillSwitchRule builds a declarative KillSwitch rule entry (distinct
// from the Engine's own kill-switch latch — this lets a rule document
// declare the switch enabled from load time).
func NewKillSwitchRule(enabled bool) Rule {
	return Rule{Kind: RuleKillSwitch, Name: "KillSwitch", Enabled: enabled}
}

// Engine evaluates a RiskContext against an immutable rule set, gated
// by a global, atomically-read kill-switch.
type Engine struct {
	logger *zap.Logger

	rules []Rule

	killSwitch atomic.Bool

	mu sync.RWMutex // guards rules replacement via UpdateRules
}

// NewEngine constructs an Engine with the given immutable rule set.
func NewEngine(logger *zap.Logger, rules []Rule) *Engine {
	return &Engine{
		logger: logger.Named("risk"),
		rules:  rules,
	}
}

// UpdateRules atomically swaps the rule set (e.g. on policy reload).
// Rules already in flight continue to see the old slice value since
// Evaluate snapshots it under the read lock.
func (e *Engine) UpdateRules(rules []Rule) {
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
}

// TriggerKillSwitch sets the global latch. Monotonic: subsequent
// triggers are no-ops.
func (e *Engine) TriggerKillSwitch() {
	e.killSwitch.Store(true)
	e.logger.Warn("kill switch triggered")
}

// ResetKillSwitch clears the global latch. Idempotent.
func (e *Engine) ResetKillSwitch() {
	e.killSwitch.Store(false)
	e.logger.Info("kill switch reset")
}

// IsKillSwitchActive reports the current latch state.
func (e *Engine) IsKillSwitchActive() bool {
	return e.killSwitch.Load()
}

// Evaluate decides whether ctx is permitted. Never fails: the worst
// outcome is a rejecting Decision. Reentrant; readers of the rule set
// never block each other.
func (e *Engine) Evaluate(ctx Context) Decision {
	if e.killSwitch.Load() {
		return Decision{Allowed: false, ViolatedPolicies: []string{"KillSwitch (active)"}}
	}

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	violations := make([]string, 0)

	for _, rule := range rules {
		switch rule.Kind {
		case RulePositionLimit:
			if rule.MarketID != nil && *rule.MarketID != ctx.MarketID {
				continue
			}
			newPosition := ctx.CurrentPosition.Add(ctx.ProposedSize).Abs()
			if newPosition.GreaterThan(rule.MaxSize) {
				violations = append(violations, positionLimitMessage(rule, newPosition))
			}
		case RuleInventoryLimit:
			if ctx.InventoryValueUSD.GreaterThan(rule.MaxValueUSD) {
				violations = append(violations, "InventoryLimit: inventory value exceeds max")
			}
		case RuleKillSwitch:
			if rule.Enabled {
				violations = append(violations, "KillSwitch (active)")
			}
		}
	}

	return Decision{Allowed: len(violations) == 0, ViolatedPolicies: violations}
}

func positionLimitMessage(rule Rule, newPosition decimal.Decimal) string {
	scope := "global"
	if rule.MarketID != nil {
		scope = string(*rule.MarketID)
	}
	return "PositionLimit(" + scope + "): new position " + newPosition.StringFixed(2) +
		" exceeds max " + rule.MaxSize.StringFixed(2)
}
