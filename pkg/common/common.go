package common

import (
	"fmt"
	"strings"
	"time"
)

// NodeKind distinguishes the two kinds of node in the relationship graph.
type NodeKind string

const (
	NodeKindPerson     NodeKind = "person"
	NodeKindRepository NodeKind = "repo"
)

// NodeID is a graph node reference of the form "<kind>:<id>", for example
// "person:42" or "repo:1337". Nodes are owned by the person and repository
// directories; the graph only stores references to them.
type NodeID string

// PersonID returns the node id of a person.
func PersonID(id string) NodeID {
	return NodeID(string(NodeKindPerson) + ":" + id)
}

// RepositoryID returns the node id of a repository.
func RepositoryID(id string) NodeID {
	return NodeID(string(NodeKindRepository) + ":" + id)
}

// ParseNodeID splits a node id into kind and raw id and validates both.
func ParseNodeID(s string) (NodeKind, string, error) {
	kind, raw, ok := strings.Cut(s, ":")
	if !ok || raw == "" {
		return "", "", fmt.Errorf("malformed node id %q", s)
	}
	switch NodeKind(kind) {
	case NodeKindPerson, NodeKindRepository:
		return NodeKind(kind), raw, nil
	default:
		return "", "", fmt.Errorf("unknown node kind %q in %q", kind, s)
	}
}

// Kind returns the kind encoded in the id, or "" for malformed ids.
func (id NodeID) Kind() NodeKind {
	kind, _, err := ParseNodeID(string(id))
	if err != nil {
		return ""
	}
	return kind
}

// Raw returns the directory id without the kind prefix.
func (id NodeID) Raw() string {
	_, raw, err := ParseNodeID(string(id))
	if err != nil {
		return ""
	}
	return raw
}

// Node is a tagged variant over Person and Repository.
type Node interface {
	NodeID() NodeID
	Kind() NodeKind
	Degree() int
	isNode()
}

// Person is a developer or employee referenced by the graph.
type Person struct {
	ID            string             `json:"id"`
	Followers     int64              `json:"followers"`
	Contributions int64              `json:"contributions"`
	TenureYears   float64            `json:"tenure_years"`
	Skills        map[string]float64 `json:"skills,omitempty"`
	EdgeCount     int                `json:"degree"`
}

func (p Person) NodeID() NodeID { return PersonID(p.ID) }
func (p Person) Kind() NodeKind { return NodeKindPerson }
func (p Person) Degree() int    { return p.EdgeCount }
func (Person) isNode()          {}

// Repository is a code repository or other technical entity.
type Repository struct {
	ID              string `json:"id"`
	Stars           int64  `json:"stars"`
	Forks           int64  `json:"forks"`
	Contributors    int64  `json:"contributors"`
	PrimaryLanguage string `json:"primary_language,omitempty"`
	EdgeCount       int    `json:"degree"`
}

func (r Repository) NodeID() NodeID { return RepositoryID(r.ID) }
func (r Repository) Kind() NodeKind { return NodeKindRepository }
func (r Repository) Degree() int    { return r.EdgeCount }
func (Repository) isNode()         {}

// EdgeType is the relationship an edge represents.
type EdgeType string

const (
	EdgeCoEmployment  EdgeType = "co_employment"
	EdgeCollaboration EdgeType = "collaboration"
)

// Valid reports whether t is a known edge type.
func (t EdgeType) Valid() bool {
	return t == EdgeCoEmployment || t == EdgeCollaboration
}

// EdgeKey identifies an edge. Src is always the smaller of the two ids so
// an unordered pair maps to exactly one key per type.
type EdgeKey struct {
	Src  NodeID   `json:"src"`
	Dst  NodeID   `json:"dst"`
	Type EdgeType `json:"type"`
}

// NewEdgeKey canonicalises the pair ordering.
func NewEdgeKey(a, b NodeID, t EdgeType) EdgeKey {
	if b < a {
		a, b = b, a
	}
	return EdgeKey{Src: a, Dst: b, Type: t}
}

func (k EdgeKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Src, k.Dst, k.Type)
}

// Edge is a weighted, undirected relationship between two nodes.
//
// Provenance is the company or repository contributing the most weight.
// Provenances lists every contributing company or repository.
type Edge struct {
	Src           NodeID    `json:"src"`
	Dst           NodeID    `json:"dst"`
	Type          EdgeType  `json:"type"`
	Weight        float64   `json:"weight"`
	Provenance    string    `json:"provenance"`
	Provenances   []string  `json:"provenances,omitempty"`
	FirstObserved time.Time `json:"first_observed"`
	LastObserved  time.Time `json:"last_observed"`
}

func (e Edge) Key() EdgeKey {
	return EdgeKey{Src: e.Src, Dst: e.Dst, Type: e.Type}
}

// Other returns the endpoint opposite to id.
func (e Edge) Other(id NodeID) NodeID {
	if e.Src == id {
		return e.Dst
	}
	return e.Src
}

// HasProvenance reports whether p contributed to the edge.
func (e Edge) HasProvenance(p string) bool {
	if e.Provenance == p {
		return true
	}
	for _, v := range e.Provenances {
		if v == p {
			return true
		}
	}
	return false
}

// Validate checks the structural edge invariants.
func (e Edge) Validate() error {
	if e.Src == "" || e.Dst == "" {
		return fmt.Errorf("edge has empty endpoint")
	}
	if e.Src == e.Dst {
		return fmt.Errorf("self edge on %s", e.Src)
	}
	if e.Weight < 0 {
		return fmt.Errorf("negative weight %.4f on %s", e.Weight, e.Key())
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown edge type %q", e.Type)
	}
	return nil
}

// EdgeContribution is the weight a single company or repository adds to an
// edge. Contributions are written per unit and merged into edges on publish.
type EdgeContribution struct {
	Key           EdgeKey   `json:"key"`
	Provenance    string    `json:"provenance"`
	Weight        float64   `json:"weight"`
	FirstObserved time.Time `json:"first_observed"`
	LastObserved  time.Time `json:"last_observed"`
}
