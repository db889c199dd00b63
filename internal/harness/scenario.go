package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/credsync/internal/credential"
)

// Scenario is a convergence test case loaded from YAML.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// MergeEntitlements overrides the resolver's merge setting. Nil means true.
	MergeEntitlements *bool `yaml:"merge_entitlements,omitempty"`

	// Seed lists credentials present in the target before any step runs.
	Seed []SeedCredential `yaml:"seed,omitempty"`

	// Sources holds the raw source documents per origin name.
	Sources map[string][]map[string]any `yaml:"sources,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// SeedCredential is a credential inserted directly into the target, bypassing
// the upsert path, the way an independent writer would.
type SeedCredential struct {
	UserID    string   `yaml:"user_id"`
	AppIDs    []string `yaml:"app_ids"`
	Password  *string  `yaml:"password,omitempty"`
	URL       string   `yaml:"url,omitempty"`
	Title     *string  `yaml:"title,omitempty"`
	FirstName *string  `yaml:"first_name,omitempty"`
}

// Step is one action of a scenario. Exactly one field must be set.
type Step struct {
	Run     string        `yaml:"run,omitempty"`
	Webhook *WebhookEvent `yaml:"webhook,omitempty"`
	Dedupe  bool          `yaml:"dedupe,omitempty"`
}

// WebhookEvent simulates the webhook ingestion path, which creates a
// credential with a plain insert and title-derived entitlements.
type WebhookEvent struct {
	UserID   string  `yaml:"user_id"`
	Password *string `yaml:"password,omitempty"`
	URL      string  `yaml:"url,omitempty"`
	Title    string  `yaml:"title,omitempty"`
}

// Assertion is a check against the final target state.
type Assertion struct {
	Type string `yaml:"type"`

	UserID   string   `yaml:"user_id,omitempty"`
	Count    int      `yaml:"count,omitempty"`
	AppIDs   []string `yaml:"app_ids,omitempty"`
	Password string   `yaml:"password,omitempty"`
	AppID    string   `yaml:"app_id,omitempty"`
	Allowed  *bool    `yaml:"allowed,omitempty"`
	Field    string   `yaml:"field,omitempty"`
	Value    *string  `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertCredentialCount = "credential_count"
	AssertEntitlements    = "entitlements"
	AssertNoDuplicates    = "no_duplicates"
	AssertTotalCount      = "total_count"
	AssertCanLogin        = "can_login"
	AssertField           = "field"
)

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// ScenarioPaths lists every *.yaml file in dir, ordered by file name.
func ScenarioPaths(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for origin := range s.Sources {
		if _, err := credential.ParseOrigin(origin); err != nil {
			return fmt.Errorf("sources: %w", err)
		}
	}

	for i, c := range s.Seed {
		if c.UserID == "" {
			return fmt.Errorf("seed[%d]: user_id is required", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step Step) error {
	set := 0
	if step.Run != "" {
		set++
		if _, err := credential.ParseOrigin(step.Run); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	}
	if step.Webhook != nil {
		set++
		if step.Webhook.UserID == "" {
			return fmt.Errorf("steps[%d]: webhook user_id is required", index)
		}
	}
	if step.Dedupe {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of run, webhook or dedupe is required", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCredentialCount:
		if a.UserID == "" {
			return fmt.Errorf("assertions[%d]: user_id is required for credential_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for credential_count", index)
		}
	case AssertEntitlements:
		if a.UserID == "" {
			return fmt.Errorf("assertions[%d]: user_id is required for entitlements", index)
		}
	case AssertNoDuplicates:
	case AssertTotalCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for total_count", index)
		}
	case AssertCanLogin:
		if a.UserID == "" || a.AppID == "" {
			return fmt.Errorf("assertions[%d]: user_id and app_id are required for can_login", index)
		}
	case AssertField:
		if a.UserID == "" || a.Field == "" {
			return fmt.Errorf("assertions[%d]: user_id and field are required for field", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
