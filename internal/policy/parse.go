package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes a policy file body. JSON is detected by a leading '{';
// anything else goes through the YAML decoder. The decoded tree is then
// validated against the strict schema: unknown keys are rejected, scalars
// are coerced, string lists are deduplicated and capped.
func Parse(body string) (*Config, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return Default(), nil
	}

	var raw map[string]any
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return nil, fmt.Errorf("parse policy json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(body), &raw); err != nil {
			return nil, fmt.Errorf("parse policy yaml: %w", err)
		}
	}
	return fromTree(raw)
}

func fromTree(raw map[string]any) (*Config, error) {
	cfg := Default()
	for key, val := range raw {
		switch key {
		case "mode":
			mode, err := asString(key, val)
			if err != nil {
				return nil, err
			}
			if mode != ModeRemind && mode != ModeEnforce {
				return nil, fmt.Errorf("policy field mode: invalid value %q", mode)
			}
			cfg.Mode = mode
		case "issue":
			sect, err := asSection(key, val)
			if err != nil {
				return nil, err
			}
			if err := applyIssue(&cfg.Issue, sect); err != nil {
				return nil, err
			}
		case "pull_request":
			sect, err := asSection(key, val)
			if err != nil {
				return nil, err
			}
			if err := applyPullRequest(&cfg.PullRequest, sect); err != nil {
				return nil, err
			}
		case "review":
			sect, err := asSection(key, val)
			if err != nil {
				return nil, err
			}
			if err := applyReview(&cfg.Review, sect); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown policy field: %s", key)
		}
	}
	return cfg, nil
}

func applyIssue(s *IssueSection, sect map[string]any) error {
	for key, val := range sect {
		var err error
		switch key {
		case "check_enabled":
			s.CheckEnabled, err = asBool("issue."+key, val)
		case "min_body_length":
			s.MinBodyLength, err = asInt("issue."+key, val)
		case "required_sections":
			s.RequiredSections, err = asStringList("issue."+key, val, maxRequiredSections, 0)
		default:
			return fmt.Errorf("unknown policy field: issue.%s", key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func applyPullRequest(s *PRSection, sect map[string]any) error {
	for key, val := range sect {
		var err error
		switch key {
		case "check_enabled":
			s.CheckEnabled, err = asBool("pull_request."+key, val)
		case "min_body_length":
			s.MinBodyLength, err = asInt("pull_request."+key, val)
		case "required_sections":
			s.RequiredSections, err = asStringList("pull_request."+key, val, maxRequiredSections, 0)
		case "require_issue_reference":
			s.RequireIssueReference, err = asBool("pull_request."+key, val)
		case "issue_reference_pattern":
			s.IssueReferencePattern, err = asString("pull_request."+key, val)
		default:
			return fmt.Errorf("unknown policy field: pull_request.%s", key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func applyReview(s *ReviewSection, sect map[string]any) error {
	boolFields := map[string]**bool{
		"enabled":                        &s.Enabled,
		"on_opened":                      &s.OnOpened,
		"on_edited":                      &s.OnEdited,
		"on_synchronize":                 &s.OnSynchronize,
		"include_ci_checks":              &s.IncludeCIChecks,
		"secret_scan_enabled":            &s.SecretScanEnabled,
		"auto_label_enabled":             &s.AutoLabelEnabled,
		"review_command_enabled":         &s.ReviewCommandEnabled,
		"ask_command_enabled":            &s.AskCommandEnabled,
		"describe_command_enabled":       &s.DescribeCommandEnabled,
		"checks_command_enabled":         &s.ChecksCommandEnabled,
		"generate_tests_command_enabled": &s.GenerateTestsCommandEnabled,
		"changelog_command_enabled":      &s.ChangelogCommandEnabled,
		"feedback_command_enabled":       &s.FeedbackCommandEnabled,
		"similar_issue_command_enabled":  &s.SimilarIssueCommandEnabled,
		"describe_allow_apply":           &s.DescribeAllowApply,
		"changelog_allow_apply":          &s.ChangelogAllowApply,
	}

	for key, val := range sect {
		if dst, ok := boolFields[key]; ok {
			b, err := asBool("review."+key, val)
			if err != nil {
				return err
			}
			*dst = b
			continue
		}
		var err error
		switch key {
		case "mode":
			var mode string
			mode, err = asString("review."+key, val)
			if err == nil && mode != "comment" && mode != "report" {
				return fmt.Errorf("policy field review.mode: invalid value %q", mode)
			}
			s.Mode = mode
		case "custom_rules":
			s.CustomRules, err = asStringList("review."+key, val, maxCustomRules, 0)
		case "secret_scan_custom_patterns":
			s.SecretScanCustomPatterns, err = asStringList("review."+key, val, maxSecretPatterns, maxSecretPatternChars)
		default:
			return fmt.Errorf("unknown policy field: review.%s", key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func asSection(field string, val any) (map[string]any, error) {
	switch v := val.(type) {
	case map[string]any:
		return v, nil
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("policy field %s: non-string key", field)
			}
			out[ks] = item
		}
		return out, nil
	case nil:
		return map[string]any{}, nil
	default:
		return nil, fmt.Errorf("policy field %s: expected mapping, got %T", field, val)
	}
}

// asBool coerces booleans from the documented token sets true/yes/on/1 and
// false/no/off/0.
func asBool(field string, val any) (*bool, error) {
	switch v := val.(type) {
	case bool:
		b := v
		return &b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "on", "1":
			b := true
			return &b, nil
		case "false", "no", "off", "0":
			b := false
			return &b, nil
		}
		return nil, fmt.Errorf("policy field %s: invalid boolean %q", field, v)
	case int:
		b := v != 0
		return &b, nil
	case float64:
		b := v != 0
		return &b, nil
	default:
		return nil, fmt.Errorf("policy field %s: expected boolean, got %T", field, val)
	}
}

func asInt(field string, val any) (int, error) {
	switch v := val.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("policy field %s: expected integer, got %T", field, val)
}

func asString(field string, val any) (string, error) {
	if s, ok := val.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return "", fmt.Errorf("policy field %s: expected string, got %T", field, val)
}

// asStringList coerces a list of scalars, deduplicating, dropping blanks,
// and enforcing count and per-item length caps.
func asStringList(field string, val any, maxItems, maxItemLen int) ([]string, error) {
	items, ok := val.([]any)
	if !ok {
		if val == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("policy field %s: expected list, got %T", field, val)
	}

	seen := make(map[string]bool)
	var out []string
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("policy field %s: expected string items, got %T", field, item)
		}
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		if maxItemLen > 0 && len(s) > maxItemLen {
			return nil, fmt.Errorf("policy field %s: item exceeds %d characters", field, maxItemLen)
		}
		seen[s] = true
		out = append(out, s)
		if len(out) >= maxItems {
			break
		}
	}
	return out, nil
}
