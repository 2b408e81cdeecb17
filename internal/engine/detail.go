package engine

import "github.com/mpataki/flowwatch/internal/models"

// NodeDetail is the inspected node with its documentation flattened so
// callers can range over every collection without nil checks.
type NodeDetail struct {
	Node            *models.Node
	Status          models.NodeStatus
	TypeLabel       string
	LongDescription string
	Inputs          []models.FieldDoc
	Outputs         []models.FieldDoc
	Technology      models.Technology
	HasTechnology   bool
	TypicalDuration string
	ErrorCases      []models.ErrorCase
}

// Detail returns the projection for selectedID, or nil when nothing is
// selected or the id is not part of wf.
func Detail(wf *models.Workflow, selectedID string, statuses map[string]models.NodeStatus) *NodeDetail {
	if wf == nil || selectedID == "" {
		return nil
	}
	n, ok := wf.Node(selectedID)
	if !ok {
		return nil
	}

	d := &NodeDetail{
		Node:       n,
		Status:     models.NodeStatusIdle,
		TypeLabel:  TypeLabel(n.Type),
		Inputs:     []models.FieldDoc{},
		Outputs:    []models.FieldDoc{},
		ErrorCases: []models.ErrorCase{},
	}
	if st, ok := statuses[n.ID]; ok {
		d.Status = st
	}

	if n.Details == nil {
		d.LongDescription = n.Description
		return d
	}

	d.LongDescription = n.Details.LongDescription
	if d.LongDescription == "" {
		d.LongDescription = n.Description
	}
	d.Inputs = append(d.Inputs, n.Details.Inputs...)
	d.Outputs = append(d.Outputs, n.Details.Outputs...)
	d.ErrorCases = append(d.ErrorCases, n.Details.ErrorCases...)
	d.TypicalDuration = n.Details.TypicalDuration
	if n.Details.Technology != nil {
		d.Technology = *n.Details.Technology
		d.HasTechnology = true
	}
	return d
}
