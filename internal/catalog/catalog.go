package catalog

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mpataki/flowwatch/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed workflows/*.yaml
var bundled embed.FS

var (
	ErrNotFound = errors.New("workflow not found")
	ErrInvalid  = errors.New("invalid workflow")
)

// Catalog is an ordered, read-only set of workflow definitions.
type Catalog struct {
	workflows []*models.Workflow
	byID      map[string]*models.Workflow
}

func New(workflows ...*models.Workflow) *Catalog {
	c := &Catalog{byID: make(map[string]*models.Workflow, len(workflows))}
	for _, wf := range workflows {
		c.add(wf)
	}
	return c
}

// add appends wf, replacing an earlier definition with the same id in place.
func (c *Catalog) add(wf *models.Workflow) {
	if _, ok := c.byID[wf.ID]; ok {
		for i, existing := range c.workflows {
			if existing.ID == wf.ID {
				c.workflows[i] = wf
			}
		}
	} else {
		c.workflows = append(c.workflows, wf)
	}
	c.byID[wf.ID] = wf
}

func (c *Catalog) List() []*models.Workflow {
	return append([]*models.Workflow(nil), c.workflows...)
}

func (c *Catalog) Get(id string) (*models.Workflow, error) {
	wf, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return wf, nil
}

func (c *Catalog) Len() int {
	return len(c.workflows)
}

// Index returns the position of the workflow in List order, or -1.
func (c *Catalog) Index(id string) int {
	for i, wf := range c.workflows {
		if wf.ID == id {
			return i
		}
	}
	return -1
}

// bundledOrder fixes the order the bundled workflows are listed in, and so
// which one a fresh view opens on. Embedded files missing from it follow in
// filename order.
var bundledOrder = []string{
	"kommo-webhook.yaml",
	"twilio-webhook.yaml",
	"appointment-flow.yaml",
}

// Default returns the workflows bundled into the binary.
func Default() (*Catalog, error) {
	entries, err := fs.ReadDir(bundled, "workflows")
	if err != nil {
		return nil, err
	}

	names := append([]string(nil), bundledOrder...)
	for _, entry := range entries {
		if !slices.Contains(bundledOrder, entry.Name()) {
			names = append(names, entry.Name())
		}
	}

	c := New()
	for _, name := range names {
		data, err := bundled.ReadFile(path.Join("workflows", name))
		if err != nil {
			return nil, err
		}
		wf, err := ParseBytes(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse bundled %s: %w", name, err)
		}
		c.add(wf)
	}
	return c, nil
}

// Load returns the bundled workflows overlaid with every definition found in
// dirs. A definition from a directory replaces a bundled one with the same id.
func Load(dirs []string) (*Catalog, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}

	for _, dir := range dirs {
		if err := loadFromDir(dir, c); err != nil {
			// Skip directories that don't exist
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
	}
	return c, nil
}

func Parse(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return ParseBytes(data)
}

func ParseBytes(data []byte) (*models.Workflow, error) {
	var wf models.Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow YAML: %w", err)
	}
	if wf.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalid)
	}
	if wf.Name == "" {
		wf.Name = wf.ID
	}
	return &wf, nil
}

func loadFromDir(dir string, c *Catalog) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !isWorkflowFile(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		wf, err := Parse(path)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		c.add(wf)
	}
	return nil
}

func isWorkflowFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// Lint reports every structural problem in a definition. The engine assumes
// valid input and never calls this; it backs `flowwatch workflows --check`.
func Lint(wf *models.Workflow) []error {
	var problems []error

	if wf.ID == "" {
		problems = append(problems, fmt.Errorf("%w: missing id", ErrInvalid))
	}
	if len(wf.Nodes) == 0 {
		problems = append(problems, fmt.Errorf("%w: %s has no nodes", ErrInvalid, wf.ID))
	}

	ids := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if n.ID == "" {
			problems = append(problems, fmt.Errorf("%w: node without id", ErrInvalid))
			continue
		}
		if ids[n.ID] {
			problems = append(problems, fmt.Errorf("%w: duplicate node id %q", ErrInvalid, n.ID))
		}
		ids[n.ID] = true
	}

	for _, e := range wf.Edges {
		if !ids[e.Source] {
			problems = append(problems, fmt.Errorf("%w: edge %s source %q not found", ErrInvalid, e.ID, e.Source))
		}
		if !ids[e.Target] {
			problems = append(problems, fmt.Errorf("%w: edge %s target %q not found", ErrInvalid, e.ID, e.Target))
		}
	}

	if wf.Trigger == "" {
		problems = append(problems, fmt.Errorf("%w: %s has no trigger", ErrInvalid, wf.ID))
	} else if trigger, ok := wf.Node(wf.Trigger); !ok {
		problems = append(problems, fmt.Errorf("%w: trigger %q not found in nodes", ErrInvalid, wf.Trigger))
	} else if trigger.Type != models.NodeTypeTrigger {
		problems = append(problems, fmt.Errorf("%w: trigger %q has type %s", ErrInvalid, wf.Trigger, trigger.Type))
	}

	return problems
}
