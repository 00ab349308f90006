// Package diagram renders a workflow step graph as a Mermaid flowchart,
// optionally overlaying per-step execution status for a running case.
package diagram

import (
	"fmt"
	"strings"

	"github.com/taxops/caseflow/pkg/schema"
)

// Model is the intermediate representation built from a step graph before
// rendering. Nodes are ordered by sort order then id for stable output.
type Model struct {
	Title string
	Nodes []Node
	Edges []Edge
}

// Node is a single step in the diagram.
type Node struct {
	ID     string
	Label  string
	Type   schema.StepType
	Status schema.ExecutionStatus // empty when no execution overlay
}

// Edge is a successor reference between two steps.
type Edge struct {
	From  string
	To    string
	Label string // "ok" or "fail"
}

// Build constructs a Model from a step graph. statuses maps step id to the
// latest execution status for that step; pass nil for a plain definition
// diagram. Dangling successor references are dropped so drafts still render.
func Build(title string, graph *schema.StepGraph, statuses map[string]schema.ExecutionStatus) *Model {
	m := &Model{Title: title}
	if graph == nil {
		return m
	}

	known := make(map[string]bool, len(graph.Steps))
	for _, s := range graph.Steps {
		known[s.ID] = true
	}

	for _, s := range graph.Sorted() {
		m.Nodes = append(m.Nodes, Node{
			ID:     s.ID,
			Label:  s.Name,
			Type:   s.Type,
			Status: statuses[s.ID],
		})
		if s.OnSuccess != "" && known[s.OnSuccess] {
			m.Edges = append(m.Edges, Edge{From: s.ID, To: s.OnSuccess, Label: "ok"})
		}
		if s.OnFailure != "" && known[s.OnFailure] {
			m.Edges = append(m.Edges, Edge{From: s.ID, To: s.OnFailure, Label: "fail"})
		}
	}
	return m
}

// RenderMermaid renders the model as a Mermaid flowchart string.
func RenderMermaid(m *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if m.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", m.Title))
	}

	if entry := entryNode(m); entry != "" {
		b.WriteString("    _start((\"start\"))\n")
	}

	for _, node := range m.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", nodeDef(node)))
	}

	if entry := entryNode(m); entry != "" {
		b.WriteString(fmt.Sprintf("    _start --> %s\n", safeID(entry)))
	}
	for _, edge := range m.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n",
			safeID(edge.From), label, safeID(edge.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef waiting fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef cancelled fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, node := range m.Nodes {
		if cls := statusClass(node.Status); cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", safeID(node.ID), cls))
		}
	}

	return b.String()
}

// entryNode returns the id of the first node, or "" for an empty model. Nodes
// are already sorted by Build, so the first node is the entry step.
func entryNode(m *Model) string {
	if len(m.Nodes) == 0 {
		return ""
	}
	return m.Nodes[0].ID
}

// nodeDef returns a Mermaid node definition shaped by step type: diamonds for
// decision tables, stadiums for the waiting step types, subroutine boxes for
// document generation, plain boxes for calculations.
func nodeDef(node Node) string {
	id := safeID(node.ID)
	label := firstLine(node.Label)
	if label == "" {
		label = node.ID
	}

	switch node.Type {
	case schema.StepTypeDecisionTable:
		return fmt.Sprintf("%s{%q}", id, label)
	case schema.StepTypeHumanTask, schema.StepTypeClientApproval:
		return fmt.Sprintf("%s([%q])", id, label)
	case schema.StepTypeDocumentGeneration:
		return fmt.Sprintf("%s[[%q]]", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// safeID converts a step id to a Mermaid-safe identifier.
func safeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// statusClass maps an execution status to a Mermaid class name.
func statusClass(status schema.ExecutionStatus) string {
	switch status {
	case schema.ExecutionStatusCompleted:
		return "completed"
	case schema.ExecutionStatusFailed:
		return "failed"
	case schema.ExecutionStatusRunning:
		return "running"
	case schema.ExecutionStatusWaiting:
		return "waiting"
	case schema.ExecutionStatusCancelled:
		return "cancelled"
	default:
		return ""
	}
}
