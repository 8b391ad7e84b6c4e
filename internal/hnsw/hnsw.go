// Package hnsw implements an in-memory Hierarchical Navigable Small World
// graph for approximate nearest-neighbor search over unit-length vectors.
//
// The graph lives entirely in memory; callers are responsible for
// persisting the underlying vectors elsewhere and rebuilding the index on
// startup by replaying Insert calls (see Serialize/Deserialize for the
// optional warm-rebuild path).
package hnsw

import (
	"container/heap"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
)

const (
	// DefaultM is the max number of bidirectional connections per node,
	// per layer.
	DefaultM = 16
	// DefaultEfConstruction is the candidate list size used while inserting.
	DefaultEfConstruction = 200
	// maxLevel caps the geometric level sample so a single unlucky draw
	// can't blow up the graph's layer count.
	maxLevel = 16
)

// Result is a single scored match returned from Search.
type Result struct {
	ID    string
	Score float64 // 1 - cosine distance; higher is closer
}

// node is one vertex in the graph arena, addressed by its opaque ID.
// Neighbor sets are keyed by level; edges are maintained bidirectionally.
type node struct {
	id        string
	vector    []float32
	level     int
	neighbors []map[string]struct{} // neighbors[level] = set of neighbor ids
}

// Index is a single HNSW graph. It is not safe for concurrent use; callers
// that need concurrency (e.g. the index service) must serialize access
// themselves.
type Index struct {
	dim            int
	m              int
	efConstruction int
	mL             float64

	nodes      map[string]*node
	entryPoint string
	maxLevel   int

	rng *rand.Rand
}

// New creates an empty index for vectors of the given dimension, using the
// spec's default parameters (M=16, efConstruction=200).
func New(dim int) *Index {
	return NewWithParams(dim, DefaultM, DefaultEfConstruction)
}

// NewWithParams creates an empty index with explicit M / efConstruction.
func NewWithParams(dim, m, efConstruction int) *Index {
	return &Index{
		dim:            dim,
		m:              m,
		efConstruction: efConstruction,
		mL:             1.0 / math.Log(float64(m)),
		nodes:          make(map[string]*node),
		rng:            rand.New(rand.NewSource(1)),
	}
}

// Size returns the number of nodes currently in the graph.
func (ix *Index) Size() int {
	return len(ix.nodes)
}

// Dimension returns the vector dimension the index was constructed with.
func (ix *Index) Dimension() int {
	return ix.dim
}

// sampleLevel draws a level from a geometric distribution: starting at 0,
// repeatedly increment while uniform(0,1) < exp(-level*mL), capped at 16.
func (ix *Index) sampleLevel() int {
	level := 0
	for level < maxLevel && ix.rng.Float64() < math.Exp(-float64(level)*ix.mL) {
		level++
	}
	return level
}

// Insert adds or replaces the vector for id. A duplicate id is handled by
// deleting the prior entry first so the graph invariants always hold.
func (ix *Index) Insert(id string, v []float32) error {
	if len(v) != ix.dim {
		return fmt.Errorf("hnsw: insert %q: expected dimension %d, got %d", id, ix.dim, len(v))
	}
	if _, exists := ix.nodes[id]; exists {
		ix.Delete(id)
	}

	level := ix.sampleLevel()
	n := &node{
		id:        id,
		vector:    v,
		level:     level,
		neighbors: make([]map[string]struct{}, level+1),
	}
	for l := 0; l <= level; l++ {
		n.neighbors[l] = make(map[string]struct{})
	}
	ix.nodes[id] = n

	if ix.entryPoint == "" {
		ix.entryPoint = id
		ix.maxLevel = level
		return nil
	}

	entry := ix.entryPoint
	for l := ix.maxLevel; l > level; l-- {
		entry = ix.greedyClosest(v, entry, l)
	}

	for l := min(level, ix.maxLevel); l >= 0; l-- {
		candidates := ix.searchLayer(v, []string{entry}, ix.efConstruction, l)
		neighbors := takeClosest(ix, v, candidates, ix.m)

		for _, nb := range neighbors {
			ix.addEdge(id, nb, l)
			ix.addEdge(nb, id, l)
			ix.pruneIfNeeded(nb, l)
		}

		if len(candidates) > 0 {
			entry = candidates[0]
		}
	}

	if level > ix.maxLevel {
		ix.maxLevel = level
		ix.entryPoint = id
	}

	return nil
}

// addEdge wires a single directed edge, extending the neighbor list if the
// level doesn't exist on that node yet (can happen when a higher-level
// node links down to a lower-level neighbor that was created first).
func (ix *Index) addEdge(from, to string, level int) {
	n, ok := ix.nodes[from]
	if !ok {
		return
	}
	for len(n.neighbors) <= level {
		n.neighbors = append(n.neighbors, make(map[string]struct{}))
	}
	n.neighbors[level][to] = struct{}{}
}

// pruneIfNeeded keeps a node's per-level fan-out at or below M, evicting the
// reverse edge for any neighbor that gets dropped.
func (ix *Index) pruneIfNeeded(id string, level int) {
	n, ok := ix.nodes[id]
	if !ok || level >= len(n.neighbors) {
		return
	}
	if len(n.neighbors[level]) <= ix.m {
		return
	}

	ids := make([]string, 0, len(n.neighbors[level]))
	for nb := range n.neighbors[level] {
		ids = append(ids, nb)
	}
	kept := takeClosest(ix, n.vector, ids, ix.m)
	keptSet := make(map[string]struct{}, len(kept))
	for _, k := range kept {
		keptSet[k] = struct{}{}
	}

	for nb := range n.neighbors[level] {
		if _, ok := keptSet[nb]; !ok {
			delete(n.neighbors[level], nb)
			if other, ok := ix.nodes[nb]; ok && level < len(other.neighbors) {
				delete(other.neighbors[level], id)
			}
		}
	}
}

// Delete removes a node and every edge pointing at it. If it was the entry
// point, an arbitrary surviving node becomes the new entry point and
// max_level is recomputed as that node's own highest occupied level — this
// can under-count the graph's true max level, by design (see spec's open
// questions); it self-heals on the next insert.
func (ix *Index) Delete(id string) error {
	n, ok := ix.nodes[id]
	if !ok {
		return fmt.Errorf("hnsw: delete %q: not found", id)
	}

	for level, neighbors := range n.neighbors {
		for nb := range neighbors {
			if other, ok := ix.nodes[nb]; ok && level < len(other.neighbors) {
				delete(other.neighbors[level], id)
			}
		}
	}
	delete(ix.nodes, id)

	if ix.entryPoint == id {
		ix.entryPoint = ""
		ix.maxLevel = 0
		for otherID, other := range ix.nodes {
			ix.entryPoint = otherID
			ix.maxLevel = other.level
			break
		}
	}

	return nil
}

// Search returns the top-k nearest neighbors of q by cosine similarity.
// ef defaults to max(k, 10) when <= 0.
func (ix *Index) Search(q []float32, k int, ef int) ([]Result, error) {
	if len(q) != ix.dim {
		return nil, fmt.Errorf("hnsw: search: expected dimension %d, got %d", ix.dim, len(q))
	}
	if ix.entryPoint == "" {
		return []Result{}, nil
	}
	if ef <= 0 {
		ef = k
		if ef < 10 {
			ef = 10
		}
	}

	entry := ix.entryPoint
	for l := ix.maxLevel; l > 0; l-- {
		entry = ix.greedyClosest(q, entry, l)
	}

	candidates := ix.searchLayer(q, []string{entry}, ef, 0)

	results := make([]Result, 0, len(candidates))
	for _, id := range candidates {
		results = append(results, Result{ID: id, Score: 1 - distance(q, ix.nodes[id].vector)})
	}
	sortResultsDesc(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// greedyClosest performs a single-layer greedy descent from entry, moving
// to the closest neighbor repeatedly until no neighbor is closer than the
// current position.
func (ix *Index) greedyClosest(q []float32, entry string, level int) string {
	current := entry
	currentDist := distance(q, ix.nodes[current].vector)

	for {
		n := ix.nodes[current]
		if level >= len(n.neighbors) {
			return current
		}
		improved := false
		for nb := range n.neighbors[level] {
			nbNode, ok := ix.nodes[nb]
			if !ok {
				continue
			}
			d := distance(q, nbNode.vector)
			if d < currentDist {
				current = nb
				currentDist = d
				improved = true
			}
		}
		if !improved {
			return current
		}
	}
}

// searchLayer is the layered beam search: a candidate min-heap (by distance)
// and a bounded result max-heap (tracked by furthest distance), expanding
// unvisited neighbors that improve the result set or still fit within ef.
// It stops once the closest remaining candidate is farther than the
// furthest current result.
func (ix *Index) searchLayer(q []float32, entryPoints []string, ef int, level int) []string {
	visited := make(map[string]struct{})
	candidates := &minHeap{}
	results := &maxHeap{}

	for _, id := range entryPoints {
		n, ok := ix.nodes[id]
		if !ok {
			continue
		}
		d := distance(q, n.vector)
		heap.Push(candidates, item{id, d})
		heap.Push(results, item{id, d})
		visited[id] = struct{}{}
	}

	for candidates.Len() > 0 {
		closest := heap.Pop(candidates).(item)
		if results.Len() >= ef && closest.dist > (*results)[0].dist {
			break
		}

		n, ok := ix.nodes[closest.id]
		if !ok || level >= len(n.neighbors) {
			continue
		}
		for nb := range n.neighbors[level] {
			if _, seen := visited[nb]; seen {
				continue
			}
			visited[nb] = struct{}{}
			nbNode, ok := ix.nodes[nb]
			if !ok {
				continue
			}
			d := distance(q, nbNode.vector)
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(candidates, item{nb, d})
				heap.Push(results, item{nb, d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]string, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(item).id
	}
	return out
}

// takeClosest sorts candidates by distance to query and returns up to m of
// the closest ids.
func takeClosest(ix *Index, q []float32, candidates []string, m int) []string {
	type scored struct {
		id string
		d  float64
	}
	pairs := make([]scored, 0, len(candidates))
	for _, id := range candidates {
		n, ok := ix.nodes[id]
		if !ok {
			continue
		}
		pairs = append(pairs, scored{id, distance(q, n.vector)})
	}
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && pairs[j].d < pairs[j-1].d; j-- {
			pairs[j], pairs[j-1] = pairs[j-1], pairs[j]
		}
	}
	if len(pairs) > m {
		pairs = pairs[:m]
	}
	ids := make([]string, len(pairs))
	for i, p := range pairs {
		ids[i] = p.id
	}
	return ids
}

func sortResultsDesc(r []Result) {
	for i := 1; i < len(r); i++ {
		for j := i; j > 0 && r[j].Score > r[j-1].Score; j-- {
			r[j], r[j-1] = r[j-1], r[j]
		}
	}
}

// distance is cosine distance: 1 - (a·b) over unit vectors. Vectors that
// aren't exactly unit-length still produce a sane value since we normalize
// by the norms.
func distance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// --- persistence (optional warm-rebuild path) ---

// serializedNode mirrors node for JSON (de)serialization; neighbor sets are
// flattened to slices since JSON has no native set type.
type serializedNode struct {
	ID        string     `json:"id"`
	Vector    []float32  `json:"vector"`
	Level     int        `json:"level"`
	Neighbors [][]string `json:"neighbors"`
}

type serializedIndex struct {
	Dim            int              `json:"dim"`
	M              int              `json:"m"`
	EfConstruction int              `json:"ef_construction"`
	EntryPoint     string           `json:"entry_point"`
	MaxLevel       int              `json:"max_level"`
	Nodes          []serializedNode `json:"nodes"`
}

// Serialize snapshots the full graph (not just the vectors) to JSON. The
// index service does not rely on this for durability — only embeddings are
// persisted there, and the graph is rebuilt on start — but it is part of
// the index's own contract for callers that want to skip the rebuild cost.
func (ix *Index) Serialize() ([]byte, error) {
	s := serializedIndex{
		Dim:            ix.dim,
		M:              ix.m,
		EfConstruction: ix.efConstruction,
		EntryPoint:     ix.entryPoint,
		MaxLevel:       ix.maxLevel,
	}
	for _, n := range ix.nodes {
		sn := serializedNode{ID: n.id, Vector: n.vector, Level: n.level}
		sn.Neighbors = make([][]string, len(n.neighbors))
		for l, set := range n.neighbors {
			ids := make([]string, 0, len(set))
			for id := range set {
				ids = append(ids, id)
			}
			sn.Neighbors[l] = ids
		}
		s.Nodes = append(s.Nodes, sn)
	}
	return json.Marshal(s)
}

// Deserialize restores a graph previously produced by Serialize.
func Deserialize(data []byte) (*Index, error) {
	var s serializedIndex
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("hnsw: deserialize: %w", err)
	}
	ix := NewWithParams(s.Dim, s.M, s.EfConstruction)
	ix.entryPoint = s.EntryPoint
	ix.maxLevel = s.MaxLevel
	for _, sn := range s.Nodes {
		n := &node{id: sn.ID, vector: sn.Vector, level: sn.Level}
		n.neighbors = make([]map[string]struct{}, len(sn.Neighbors))
		for l, ids := range sn.Neighbors {
			set := make(map[string]struct{}, len(ids))
			for _, id := range ids {
				set[id] = struct{}{}
			}
			n.neighbors[l] = set
		}
		ix.nodes[sn.ID] = n
	}
	return ix, nil
}
