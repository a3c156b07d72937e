package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"opsdesk/internal/domain"
)

// Config models opsdesk.yml.
type Config struct {
	Portal struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name,omitempty" json:"name,omitempty"`
	} `yaml:"portal" json:"portal"`
	Statuses        map[string]BadgeDef `yaml:"statuses" json:"statuses"`
	Priorities      map[string]BadgeDef `yaml:"priorities" json:"priorities"`
	DefaultPriority string              `yaml:"default_priority" json:"default_priority"`
	Directory       Directory           `yaml:"directory" json:"directory"`
	Remote          RemoteConfig        `yaml:"remote,omitempty" json:"remote,omitempty"`
	Webhooks        []WebhookConfig     `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// BadgeDef describes how a status or priority code is displayed.
type BadgeDef struct {
	Label string `yaml:"label" json:"label"`
	Color string `yaml:"color" json:"color"`
	Level int    `yaml:"level" json:"level"`
}

type Directory struct {
	Members     []MemberSeed     `yaml:"members" json:"members"`
	Departments []DepartmentSeed `yaml:"departments,omitempty" json:"departments,omitempty"`
	Groups      []GroupSeed      `yaml:"groups" json:"groups"`
}

type MemberSeed struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	Role string `yaml:"role" json:"role"`
}

type DepartmentSeed struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

type GroupSeed struct {
	ID        string         `yaml:"id" json:"id"`
	Name      string         `yaml:"name" json:"name"`
	Members   []string       `yaml:"members" json:"members"`
	WorkTypes []WorkTypeSeed `yaml:"work_types,omitempty" json:"work_types,omitempty"`
}

type WorkTypeSeed struct {
	ID             string        `yaml:"id" json:"id"`
	Name           string        `yaml:"name" json:"name"`
	DefaultVariant string        `yaml:"default_variant,omitempty" json:"default_variant,omitempty"`
	Variants       []VariantSeed `yaml:"variants,omitempty" json:"variants,omitempty"`
}

type VariantSeed struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Default     bool     `yaml:"default,omitempty" json:"default,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Template    []string `yaml:"template,omitempty" json:"template,omitempty"`
}

// RemoteConfig points at the remote task API. An empty BaseURL disables remote commits.
type RemoteConfig struct {
	BaseURL        string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	APIKey         string `yaml:"api_key,omitempty" json:"-"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Groups         []string `yaml:"groups,omitempty" json:"groups,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"-"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with od portal config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Portal.ID) == "" {
		return fmt.Errorf("config.portal.id is required")
	}
	for _, code := range domain.StatusCodes() {
		if _, ok := c.Statuses[code]; !ok {
			return fmt.Errorf("config.statuses.%s is required", code)
		}
	}
	for code := range c.Statuses {
		if domain.StatusRank(code) < 0 {
			return fmt.Errorf("config.statuses has unknown status %s", code)
		}
	}
	if len(c.Priorities) == 0 {
		return fmt.Errorf("config.priorities is required")
	}
	for code := range c.Priorities {
		if strings.TrimSpace(code) == "" {
			return fmt.Errorf("config.priorities contains empty code")
		}
	}
	if c.DefaultPriority == "" {
		return fmt.Errorf("config.default_priority is required")
	}
	if _, ok := c.Priorities[c.DefaultPriority]; !ok {
		return fmt.Errorf("config.default_priority %s not defined in priorities", c.DefaultPriority)
	}
	if err := c.Directory.validate(); err != nil {
		return err
	}
	if c.Remote.TimeoutSeconds < 0 {
		return fmt.Errorf("config.remote.timeout_seconds must be >= 0")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

func (d Directory) validate() error {
	members := map[string]struct{}{}
	for _, m := range d.Members {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("directory.members contains empty id")
		}
		if _, dup := members[m.ID]; dup {
			return fmt.Errorf("directory.members has duplicate id %s", m.ID)
		}
		if m.Role != "lead" && m.Role != "staff" {
			return fmt.Errorf("member %s has invalid role %q (lead|staff)", m.ID, m.Role)
		}
		members[m.ID] = struct{}{}
	}
	depts := map[string]struct{}{}
	for _, dep := range d.Departments {
		if strings.TrimSpace(dep.ID) == "" {
			return fmt.Errorf("directory.departments contains empty id")
		}
		if _, dup := depts[dep.ID]; dup {
			return fmt.Errorf("directory.departments has duplicate id %s", dep.ID)
		}
		depts[dep.ID] = struct{}{}
	}
	groups := map[string]struct{}{}
	workTypes := map[string]struct{}{}
	for _, g := range d.Groups {
		if strings.TrimSpace(g.ID) == "" {
			return fmt.Errorf("directory.groups contains empty id")
		}
		if _, dup := groups[g.ID]; dup {
			return fmt.Errorf("directory.groups has duplicate id %s", g.ID)
		}
		groups[g.ID] = struct{}{}
		for _, m := range g.Members {
			if _, ok := members[m]; !ok {
				return fmt.Errorf("group %s references unknown member %s", g.ID, m)
			}
		}
		for _, wt := range g.WorkTypes {
			if strings.TrimSpace(wt.ID) == "" {
				return fmt.Errorf("group %s has work type with empty id", g.ID)
			}
			if _, dup := workTypes[wt.ID]; dup {
				return fmt.Errorf("work type %s is declared twice", wt.ID)
			}
			workTypes[wt.ID] = struct{}{}
			variants := map[string]struct{}{}
			for _, v := range wt.Variants {
				if strings.TrimSpace(v.ID) == "" {
					return fmt.Errorf("work type %s has variant with empty id", wt.ID)
				}
				if _, dup := variants[v.ID]; dup {
					return fmt.Errorf("work type %s has duplicate variant %s", wt.ID, v.ID)
				}
				variants[v.ID] = struct{}{}
			}
		}
	}
	return nil
}

// Warnings reports non-fatal directory issues, such as more than one default variant per work type.
func (c *Config) Warnings() []string {
	var out []string
	for _, g := range c.Directory.Groups {
		for _, wt := range g.WorkTypes {
			defaults := 0
			for _, v := range wt.Variants {
				if v.Default {
					defaults++
				}
			}
			if defaults > 1 {
				out = append(out, fmt.Sprintf("work type %s has %d default variants; the first one wins", wt.ID, defaults))
			}
			if wt.DefaultVariant != "" {
				found := false
				for _, v := range wt.Variants {
					if v.ID == wt.DefaultVariant {
						found = true
						break
					}
				}
				if !found {
					out = append(out, fmt.Sprintf("work type %s default_variant %s is not declared", wt.ID, wt.DefaultVariant))
				}
			}
		}
	}
	return out
}

// StatusBadge returns the display badge for a status code.
func (c *Config) StatusBadge(code string) domain.Badge {
	def, ok := c.Statuses[code]
	if !ok {
		return domain.Badge{Code: code, Label: code, Level: domain.StatusRank(code)}
	}
	return domain.Badge{Code: code, Label: def.Label, Color: def.Color, Level: def.Level}
}

// PriorityBadge returns the display badge for a priority code.
func (c *Config) PriorityBadge(code string) domain.Badge {
	def, ok := c.Priorities[code]
	if !ok {
		return domain.Badge{Code: code, Label: code}
	}
	return domain.Badge{Code: code, Label: def.Label, Color: def.Color, Level: def.Level}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "opsdesk.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(portalID string) string {
	return fmt.Sprintf(defaultTemplate, portalID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a portal.
func Default(portalID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, portalID))).Decode(&cfg)
	cfg.Portal.ID = portalID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML renders the config.
func (c *Config) ToYAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const defaultTemplate = `portal:
  id: %s

statuses:
  todo:
    label: "Cần làm"
    color: "#9E9E9E"
    level: 0
  doing:
    label: "Đang làm"
    color: "#2196F3"
    level: 1
  need_to_verified:
    label: "Chờ xác nhận"
    color: "#FF9800"
    level: 2
  finished:
    label: "Hoàn thành"
    color: "#4CAF50"
    level: 3

priorities:
  low:
    label: "Thấp"
    color: "#8BC34A"
    level: 0
  normal:
    label: "Bình thường"
    color: "#2196F3"
    level: 1
  high:
    label: "Cao"
    color: "#FF5722"
    level: 2
  urgent:
    label: "Khẩn cấp"
    color: "#F44336"
    level: 3

default_priority: normal

directory:
  members: []
  departments: []
  groups: []
`
