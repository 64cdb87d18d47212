package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

// RuleNode is one node of a rule's config tree: either a branch combining
// children with and/or, or a leaf comparing a sensor reading to thresholds.
// The evaluator short-circuits branches so fresh sensor lookups stop as soon
// as the outcome is decided.
type RuleNode struct {
	Op       string     `json:"op,omitempty"`
	Children []RuleNode `json:"children,omitempty"`

	SensorEntityID string            `json:"sensor_entity_id,omitempty"`
	Comparison     models.Comparison `json:"comparison,omitempty"`
	Threshold      float64           `json:"threshold,omitempty"`
	ThresholdMin   float64           `json:"threshold_min,omitempty"`
	ThresholdMax   float64           `json:"threshold_max,omitempty"`
}

// errNotReady marks a rule whose sensor data is missing or stale: the rule
// simply does not fire, no execution is recorded.
var errNotReady = errors.New("rule: sensor data missing or stale")

// ParseRuleConfig decodes and validates a rule_config tree.
func ParseRuleConfig(raw json.RawMessage) (*RuleNode, error) {
	if len(raw) == 0 {
		return nil, errors.New("rule: empty rule_config")
	}
	var node RuleNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("rule: unparseable rule_config: %w", err)
	}
	if err := node.validate(); err != nil {
		return nil, err
	}
	return &node, nil
}

func (n *RuleNode) validate() error {
	if n.Op != "" {
		if n.Op != "and" && n.Op != "or" {
			return fmt.Errorf("rule: unknown operator %q", n.Op)
		}
		if len(n.Children) == 0 {
			return fmt.Errorf("rule: %s node has no children", n.Op)
		}
		for i := range n.Children {
			if err := n.Children[i].validate(); err != nil {
				return err
			}
		}
		return nil
	}
	if n.SensorEntityID == "" {
		return errors.New("rule: leaf missing sensor_entity_id")
	}
	switch n.Comparison {
	case models.CompareAbove, models.CompareBelow, models.CompareEquals:
	case models.CompareBetween:
		if n.ThresholdMin >= n.ThresholdMax {
			return errors.New("rule: threshold_min must be below threshold_max")
		}
	default:
		return fmt.Errorf("rule: unknown comparison %q", n.Comparison)
	}
	return nil
}

// evalNode evaluates a rule tree against the snapshot cache. A missing or
// stale leaf reading yields errNotReady; the whole rule then stays quiet
// rather than acting on unknown data.
func (ev *Evaluator) evalNode(ctx context.Context, in PassInput, n *RuleNode) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	switch n.Op {
	case "and":
		for i := range n.Children {
			ok, err := ev.evalNode(ctx, in, &n.Children[i])
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case "or":
		for i := range n.Children {
			ok, err := ev.evalNode(ctx, in, &n.Children[i])
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	r, err := ev.snapshots.Latest(ctx, n.SensorEntityID)
	if err != nil {
		return false, errNotReady
	}
	if in.Now.Sub(r.ObservedAt) > ev.staleness {
		return false, errNotReady
	}
	return compare(r.Value, n.Comparison, n.Threshold, n.ThresholdMin, n.ThresholdMax), nil
}
