// File path: internal/graph/service.go

// Package graph projects surfaced discoveries and their evidence into an
// in-memory node/edge graph for export. The export round-trips: importing
// a previously exported graph restores discovery ids and confidences.
package graph

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Node is one exported graph node.
type Node struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"` // discovery:<kind>, entity, file
	Label      string                 `json:"label"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Edge links a discovery to a source (file or entity).
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"` // evidence, mentions
}

// Export is the serializable graph snapshot.
type Export struct {
	GeneratedAt time.Time `json:"generated_at"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
}

// DiscoveryInput is the projection source for one discovery.
type DiscoveryInput struct {
	ID         string
	Type       string
	Title      string
	Confidence float64
	Status     string
	Sources    []string
	CreatedAt  time.Time
}

// EntityInput is the projection source for one consolidated entity.
type EntityInput struct {
	ID          string
	Type        string
	Value       string
	Occurrences int
}

// Service builds and caches the discovery graph.
type Service struct {
	mu    sync.RWMutex
	nodes map[string]Node
	edges []Edge
}

func NewService() *Service {
	return &Service{nodes: map[string]Node{}}
}

// Refresh rebuilds the graph from the current discovery and entity sets.
func (s *Service) Refresh(discoveries []DiscoveryInput, entities []EntityInput) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = make(map[string]Node, len(discoveries)+len(entities))
	s.edges = nil

	for _, e := range entities {
		s.nodes[e.ID] = Node{
			ID:    e.ID,
			Type:  "entity",
			Label: e.Value,
			Properties: map[string]interface{}{
				"entity_type": e.Type,
				"occurrences": e.Occurrences,
			},
		}
	}
	for _, d := range discoveries {
		s.nodes[d.ID] = Node{
			ID:    d.ID,
			Type:  "discovery:" + d.Type,
			Label: d.Title,
			Properties: map[string]interface{}{
				"confidence": d.Confidence,
				"status":     d.Status,
				"created_at": d.CreatedAt,
			},
		}
		for _, source := range d.Sources {
			kind := "evidence"
			if _, isEntity := s.nodes[source]; isEntity {
				kind = "mentions"
			} else if !strings.HasPrefix(source, "file_") {
				continue
			}
			if _, ok := s.nodes[source]; !ok {
				s.nodes[source] = Node{ID: source, Type: "file", Label: source}
			}
			s.edges = append(s.edges, Edge{From: d.ID, To: source, Kind: kind})
		}
	}
}

// Export snapshots the graph with nodes in stable id order.
func (s *Service) Export() Export {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	edges := append([]Edge(nil), s.edges...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return Export{GeneratedAt: time.Now().UTC(), Nodes: nodes, Edges: edges}
}

// Import restores a previously exported graph, preserving discovery ids
// and confidences.
func (s *Service) Import(export Export) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]Node, len(export.Nodes))
	for _, n := range export.Nodes {
		s.nodes[n.ID] = n
	}
	s.edges = append([]Edge(nil), export.Edges...)
}

// Discoveries lists the discovery nodes currently in the graph.
func (s *Service) Discoveries() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Node
	for _, n := range s.nodes {
		if strings.HasPrefix(n.Type, "discovery:") {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Neighbors returns the nodes connected to the given node id.
func (s *Service) Neighbors(id string) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Node
	seen := map[string]bool{}
	for _, e := range s.edges {
		var other string
		switch id {
		case e.From:
			other = e.To
		case e.To:
			other = e.From
		default:
			continue
		}
		if seen[other] {
			continue
		}
		seen[other] = true
		if n, ok := s.nodes[other]; ok {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
