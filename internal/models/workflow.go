package models

type NodeType string

const (
	NodeTypeTrigger   NodeType = "trigger"
	NodeTypeAction    NodeType = "action"
	NodeTypeCondition NodeType = "condition"
	NodeTypeDatabase  NodeType = "database"
	NodeTypeAI        NodeType = "ai"
	NodeTypeHTTP      NodeType = "http"
	NodeTypeEnd       NodeType = "end"
)

// Workflow is a static description of a backend automation's shape.
type Workflow struct {
	ID          string  `yaml:"id" json:"id"`
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description"`
	Trigger     string  `yaml:"trigger" json:"trigger"`
	Nodes       []*Node `yaml:"nodes" json:"nodes"`
	Edges       []*Edge `yaml:"edges" json:"edges"`
}

type Position struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

type Node struct {
	ID          string       `yaml:"id" json:"id"`
	Type        NodeType     `yaml:"type" json:"type"`
	Label       string       `yaml:"label" json:"label"`
	Description string       `yaml:"description" json:"description"`
	Icon        string       `yaml:"icon,omitempty" json:"icon,omitempty"`
	Position    Position     `yaml:"position" json:"position"`
	Details     *NodeDetails `yaml:"details,omitempty" json:"details,omitempty"`
}

// NodeDetails is presentation-only documentation; nothing in the engine reads it.
type NodeDetails struct {
	LongDescription string      `yaml:"long_description" json:"longDescription"`
	Inputs          []FieldDoc  `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs         []FieldDoc  `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Technology      *Technology `yaml:"technology,omitempty" json:"technology,omitempty"`
	TypicalDuration string      `yaml:"typical_duration,omitempty" json:"typicalDuration,omitempty"`
	ErrorCases      []ErrorCase `yaml:"error_cases,omitempty" json:"errorCases,omitempty"`
}

type FieldDoc struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	Description string `yaml:"description" json:"description"`
	Example     string `yaml:"example,omitempty" json:"example,omitempty"`
}

type Technology struct {
	Name     string `yaml:"name" json:"name"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Method   string `yaml:"method,omitempty" json:"method,omitempty"`
}

type ErrorCase struct {
	Code        string `yaml:"code" json:"code"`
	Description string `yaml:"description" json:"description"`
	Handling    string `yaml:"handling" json:"handling"`
}

type Edge struct {
	ID     string `yaml:"id" json:"id"`
	Source string `yaml:"source" json:"source"`
	Target string `yaml:"target" json:"target"`
	Label  string `yaml:"label,omitempty" json:"label,omitempty"`
}

// Node returns the node with the given id.
func (w *Workflow) Node(id string) (*Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// Outgoing returns the edges leaving a node, in definition order.
func (w *Workflow) Outgoing(id string) []*Edge {
	var edges []*Edge
	for _, e := range w.Edges {
		if e.Source == id {
			edges = append(edges, e)
		}
	}
	return edges
}
