// Package align implements the value-alignment gate. Every candidate action
// the decision engine considers for autonomous execution passes through the
// gate first; the gate can block it outright or demand confirmation.
package align

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/daz2208/adaptive-memory/internal/config"
	"github.com/daz2208/adaptive-memory/internal/index"
	"github.com/daz2208/adaptive-memory/internal/model"
	"github.com/daz2208/adaptive-memory/internal/store"
)

// Evaluation is the gate's judgment of one candidate action.
type Evaluation struct {
	Verdict model.Verdict
	Reason  string
}

// Gate judges whether a candidate action may run autonomously.
type Gate interface {
	Evaluate(ctx context.Context, action string, stakes model.Stakes) Evaluation
}

// negations mark a rule action or preference as a prohibition rather than a
// directive.
var negations = []string{"don't ", "do not ", "never ", "avoid ", "stop "}

// riskTerms force confirmation regardless of learned state. These cover
// operations that are hard to undo.
var riskTerms = []string{"delete", "remove", "drop", "overwrite", "erase", "purge", "wipe"}

// StoreGate is the default gate. It derives prohibitions from learned rules
// and strong preferences, plus a static list of irreversible operations.
type StoreGate struct {
	cfg config.Alignment
	st  *store.Store
	log *zap.Logger
}

// NewGate returns a gate reading prohibitions from st.
func NewGate(cfg config.Alignment, st *store.Store, logger *zap.Logger) *StoreGate {
	return &StoreGate{
		cfg: cfg,
		st:  st,
		log: logger.With(zap.String("component", "align")),
	}
}

// Evaluate checks a candidate action against learned prohibitions. A rule
// whose action prohibits the candidate blocks it; a strong contrary
// preference or an inherently risky operation demands confirmation.
func (g *StoreGate) Evaluate(ctx context.Context, action string, stakes model.Stakes) Evaluation {
	if action == "" {
		return Evaluation{Verdict: model.VerdictAllowed}
	}

	for _, r := range g.st.ListRules(ctx) {
		prohibited, ok := stripNegation(r.Action)
		if !ok {
			continue
		}
		if index.TextSimilarity(action, prohibited) >= g.cfg.MatchThreshold {
			g.log.Info("action blocked by prohibition rule",
				zap.String("action", action),
				zap.String("rule", r.Condition))
			return Evaluation{
				Verdict: model.VerdictBlocked,
				Reason:  "prohibited by rule: " + r.Action,
			}
		}
	}

	for _, p := range g.st.ListPreferences(ctx) {
		if p.Strength < g.cfg.BlockStrength {
			continue
		}
		prohibited, ok := stripNegation(p.Statement)
		if !ok {
			continue
		}
		if index.TextSimilarity(action, prohibited) >= g.cfg.MatchThreshold {
			return Evaluation{
				Verdict: model.VerdictNeedsConfirmation,
				Reason:  "strong contrary preference: " + p.Statement,
			}
		}
	}

	lower := strings.ToLower(action)
	for _, term := range riskTerms {
		if strings.Contains(lower, term) {
			return Evaluation{
				Verdict: model.VerdictNeedsConfirmation,
				Reason:  "irreversible operation: " + term,
			}
		}
	}
	if stakes == model.StakesHigh {
		return Evaluation{
			Verdict: model.VerdictNeedsConfirmation,
			Reason:  "high-stakes stimulus",
		}
	}
	return Evaluation{Verdict: model.VerdictAllowed}
}

// stripNegation returns the prohibited phrase when text starts with a
// negation marker, e.g. "never schedule meetings" yields "schedule meetings".
func stripNegation(text string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, n := range negations {
		if strings.HasPrefix(lower, n) {
			return strings.TrimSpace(strings.TrimPrefix(lower, n)), true
		}
	}
	return "", false
}
