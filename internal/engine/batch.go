package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/duplexhq/duplex/pkg/api"
)

// syncRules writes every rule of a batch in its own isolated relational
// transaction, all submitted concurrently, and collects outcomes without
// early termination. Partial success is the expected steady state: one
// rule's failure never blocks the others, only the reporting is aggregated.
//
// The returned slice holds the surrogate id per rule, positionally; failed
// positions hold zero and their ids remain usable alongside the aggregate
// error.
func (e *engineImpl) syncRules(ctx context.Context, rules []api.Rule) ([]int64, error) {
	ids := make([]int64, len(rules))
	errs := make([]error, len(rules))

	var wg sync.WaitGroup
	for i, rule := range rules {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := rule.Validate(); err != nil {
				errs[i] = fmt.Errorf("rule %q: %w", rule.Name, err)
				e.observer.OnRuleFailed(ctx, rule, errs[i])
				return
			}

			rec := buildRuleRecord(rule, e.now())
			id, err := e.writer.writeRule(ctx, rule, rec)
			if err != nil {
				errs[i] = fmt.Errorf("rule %q: %w", rule.Name, err)
				e.observer.OnRuleFailed(ctx, rule, errs[i])
				return
			}

			ids[i] = id
			e.observer.OnRuleWritten(ctx, rule, id)
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return ids, err
	}
	return ids, nil
}

// DefaultRuleExtractor reads the "rules" entry of the event's task map.
// Each entry is a map with "name", and optionally "workflow", "state" and
// "value"; workflow defaults to the event's workflow name. Entries of any
// other shape are ignored.
func DefaultRuleExtractor(ev *api.CanonicalEvent) []api.Rule {
	raw, ok := ev.Tasks["rules"].([]any)
	if !ok {
		return nil
	}

	rules := make([]api.Rule, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		rule := api.Rule{
			Name:     stringField(m, "name"),
			Workflow: stringField(m, "workflow"),
			State:    stringField(m, "state"),
		}
		if v, ok := m["value"].(map[string]any); ok {
			rule.Value = v
		}
		if rule.Workflow == "" {
			rule.Workflow = ev.WorkflowName
		}
		if rule.Name == "" {
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
