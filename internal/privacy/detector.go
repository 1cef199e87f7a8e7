package privacy

import (
	"fmt"
	"sync"

	"github.com/raaihank/llm-anonymizer/internal/logger"
	"go.uber.org/zap"
)

// Detector runs the built-in pattern rules over text. Rules can be toggled
// while Detect runs.
type Detector struct {
	rules   []DetectionRule
	mu      sync.RWMutex
	enabled map[string]bool
	logger  *logger.Logger
}

// New creates a new pattern detector with the named rules enabled ("all"
// enables every rule).
func New(detectors []string, log *logger.Logger) (*Detector, error) {
	if log == nil {
		log = logger.NewNop()
	}

	detector := &Detector{
		rules:   GetDefaultRules(),
		enabled: make(map[string]bool),
		logger:  log,
	}

	if err := detector.configureDetectors(detectors); err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	log.Info("Pattern detector initialized",
		zap.Int("total_rules", len(detector.rules)),
		zap.Int("enabled_rules", detector.countEnabledRules()),
	)

	return detector, nil
}

// configureDetectors enables/disables detectors based on configuration
func (d *Detector) configureDetectors(detectors []string) error {
	want, err := d.resolve(detectors)
	if err != nil {
		return err
	}
	d.enabled = want
	return nil
}

// resolve maps configured detector names to the enabled state of every rule.
func (d *Detector) resolve(detectors []string) (map[string]bool, error) {
	want := make(map[string]bool, len(d.rules))
	for _, rule := range d.rules {
		want[rule.Name] = false
	}

	for _, detector := range detectors {
		if detector == "all" {
			for _, rule := range d.rules {
				want[rule.Name] = true
			}
			continue
		}

		if _, ok := want[detector]; !ok {
			return nil, fmt.Errorf("unknown detector: %s", detector)
		}
		want[detector] = true
	}

	return want, nil
}

// Reconfigure switches the detector to the named rules, enabling and
// disabling only the rules whose state changes. Unknown names leave the
// detector untouched.
func (d *Detector) Reconfigure(detectors []string) error {
	want, err := d.resolve(detectors)
	if err != nil {
		return fmt.Errorf("failed to configure detectors: %w", err)
	}

	for _, rule := range d.rules {
		d.mu.RLock()
		current := d.enabled[rule.Name]
		d.mu.RUnlock()

		switch {
		case want[rule.Name] && !current:
			err = d.EnableRule(rule.Name)
		case !want[rule.Name] && current:
			err = d.DisableRule(rule.Name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Detect returns one span per match of every enabled rule, in rule order.
// Spans from different rules may overlap.
func (d *Detector) Detect(text string) []Span {
	if text == "" {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var spans []Span
	for _, rule := range d.rules {
		if !d.enabled[rule.Name] {
			continue
		}

		class := NormalizeLabel(rule.Label)
		matches := rule.Pattern.FindAllStringSubmatchIndex(text, -1)
		for _, m := range matches {
			start, end := m[2*rule.Group], m[2*rule.Group+1]
			if start < 0 || end <= start {
				continue
			}
			spans = append(spans, Span{
				Text:        text[start:end],
				Start:       start,
				End:         end,
				EntityClass: class,
				Source:      SourcePattern,
			})
		}

		if len(matches) > 0 {
			d.logger.Debug("Pattern matched",
				zap.String("rule", rule.Name),
				zap.String("entity_class", class),
				zap.Int("count", len(matches)),
			)
		}
	}

	return spans
}

// countEnabledRules returns the number of enabled detection rules
func (d *Detector) countEnabledRules() int {
	count := 0
	for _, enabled := range d.enabled {
		if enabled {
			count++
		}
	}
	return count
}

// GetEnabledRules returns a list of enabled rule names in rule order
func (d *Detector) GetEnabledRules() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var enabled []string
	for _, rule := range d.rules {
		if d.enabled[rule.Name] {
			enabled = append(enabled, rule.Name)
		}
	}
	return enabled
}

// EnableRule enables a specific detection rule
func (d *Detector) EnableRule(ruleName string) error {
	for _, rule := range d.rules {
		if rule.Name == ruleName {
			d.mu.Lock()
			d.enabled[ruleName] = true
			d.mu.Unlock()
			d.logger.Info("Detection rule enabled", zap.String("rule", ruleName))
			return nil
		}
	}
	return fmt.Errorf("unknown rule: %s", ruleName)
}

// DisableRule disables a specific detection rule
func (d *Detector) DisableRule(ruleName string) error {
	d.mu.Lock()
	if _, exists := d.enabled[ruleName]; !exists {
		d.mu.Unlock()
		return fmt.Errorf("unknown rule: %s", ruleName)
	}
	d.enabled[ruleName] = false
	d.mu.Unlock()

	d.logger.Info("Detection rule disabled", zap.String("rule", ruleName))
	return nil
}
