// Package pipeline parses a pipeline JSON document (native array or
// drawflow graph form) and drives its execution: stage instantiation,
// aggregate property computation, per-chunk streamed/loaded dispatch, and
// the strategy-driven worker pool.
//
// go-gsf's cmd/main.go has no graph/registry concept of its own
// (convert_gsf/convert_gsf_list are hand-written single-purpose
// pipelines); this package generalises that shape into a registry-driven
// stage graph, built on the same alitto/pond worker-pool idiom
// convert_gsf_list uses.
package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Strategy selects how outer (chunk) and inner (point/stage) parallelism
// are apportioned across worker threads.
type Strategy string

const (
	StrategyConcurrentPoints Strategy = "concurrent-points"
	StrategyConcurrentFiles  Strategy = "concurrent-files"
	StrategyNested           Strategy = "nested"
)

// Options carries the pipeline-global processing knobs.
type Options struct {
	Files         []string `json:"files"`
	NCores        int      `json:"ncores"`
	Strategy      Strategy `json:"strategy"`
	Progress      bool     `json:"progress"`
	Buffer        float64  `json:"buffer"`
	Chunk         float64  `json:"chunk"`
	Verbose       bool     `json:"verbose"`
	ProfilingFile string   `json:"profiling_file"`
}

// StageSpec is one parsed stage entry: the fixed fields the engine
// understands (algoname, uid, filter, output, connect) plus every other
// JSON key, carried through as an opaque attribute map for
// stage.BindAttributes to consume.
type StageSpec struct {
	Algoname string
	UID      string
	Filter   string
	Output   string
	Connect  []string
	Attrs    map[string]any
}

// Document is a fully parsed, linearised pipeline: an ordered stage list
// plus global processing options.
type Document struct {
	Stages  []StageSpec
	Options Options
}

const (
	keyAlgoname = "algoname"
	keyUID      = "uid"
	keyFilter   = "filter"
	keyOutput   = "output"
	keyConnect  = "connect"
)

var reservedKeys = map[string]bool{
	keyAlgoname: true, keyUID: true, keyFilter: true, keyOutput: true, keyConnect: true,
}

// stageSpecFromMap splits a raw JSON stage object into its known fields
// and the remaining attribute map.
func stageSpecFromMap(raw map[string]any) (StageSpec, error) {
	algoname, _ := raw[keyAlgoname].(string)
	if algoname == "" {
		return StageSpec{}, fmt.Errorf("pipeline: stage missing required %q field", keyAlgoname)
	}

	spec := StageSpec{
		Algoname: algoname,
		Attrs:    make(map[string]any),
	}
	spec.UID, _ = raw[keyUID].(string)
	spec.Filter, _ = raw[keyFilter].(string)
	spec.Output, _ = raw[keyOutput].(string)
	if connect, ok := raw[keyConnect].([]any); ok {
		for _, c := range connect {
			if s, ok := c.(string); ok {
				spec.Connect = append(spec.Connect, s)
			}
		}
	}
	for k, v := range raw {
		if reservedKeys[k] {
			continue
		}
		spec.Attrs[k] = v
	}
	return spec, nil
}

// nativeDocument is the `{ "pipeline": [...], "processing": {...} }` form.
type nativeDocument struct {
	Pipeline   []map[string]any `json:"pipeline"`
	Processing Options          `json:"processing"`
}

// ParseDocument accepts either the native ordered-array form or the
// drawflow graph form and returns a linearised Document.
func ParseDocument(data []byte) (*Document, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("pipeline: invalid JSON document: %w", err)
	}

	if _, ok := probe["drawflow"]; ok {
		return parseDrawflow(data)
	}
	if _, ok := probe["pipeline"]; ok {
		return parseNative(data)
	}
	return nil, fmt.Errorf("pipeline: document has neither a %q nor a %q top-level key", "pipeline", "drawflow")
}

func parseNative(data []byte) (*Document, error) {
	var doc nativeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("pipeline: parsing native document: %w", err)
	}
	if len(doc.Pipeline) == 0 {
		return nil, fmt.Errorf("pipeline: empty pipeline array")
	}

	stages := make([]StageSpec, 0, len(doc.Pipeline))
	for i, raw := range doc.Pipeline {
		spec, err := stageSpecFromMap(raw)
		if err != nil {
			return nil, fmt.Errorf("pipeline: stage %d: %w", i, err)
		}
		stages = append(stages, spec)
	}
	return &Document{Stages: stages, Options: doc.Processing}, nil
}

// drawflowNode is one node of the `drawflow.Home.data` map.
type drawflowNode struct {
	Name    string                        `json:"name"`
	Data    map[string]any                `json:"data"`
	Inputs  map[string]drawflowConnection `json:"inputs"`
	Outputs map[string]drawflowConnection `json:"outputs"`
}

type drawflowConnection struct {
	Connections []drawflowLink `json:"connections"`
}

type drawflowLink struct {
	Node   string `json:"node"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

type drawflowDoc struct {
	Drawflow struct {
		Home struct {
			Data map[string]drawflowNode `json:"data"`
		} `json:"Home"`
	} `json:"drawflow"`
	Processing Options `json:"processing"`
}

func parseDrawflow(data []byte) (*Document, error) {
	var doc drawflowDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("pipeline: parsing drawflow document: %w", err)
	}
	nodes := doc.Drawflow.Home.Data
	if len(nodes) == 0 {
		return nil, fmt.Errorf("pipeline: drawflow graph has no nodes")
	}

	order, err := topoSort(nodes)
	if err != nil {
		return nil, err
	}

	stages := make([]StageSpec, 0, len(order))
	for _, id := range order {
		node := nodes[id]
		raw := map[string]any{keyAlgoname: node.Name}
		for k, v := range node.Data {
			raw[k] = v
		}

		connect := extraInputIDs(node)
		if len(connect) > 0 {
			ifaces := make([]any, len(connect))
			for i, c := range connect {
				ifaces[i] = c
			}
			raw[keyConnect] = ifaces
		}

		spec, err := stageSpecFromMap(raw)
		if err != nil {
			return nil, fmt.Errorf("pipeline: node %s: %w", id, err)
		}
		stages = append(stages, spec)
	}
	return &Document{Stages: stages, Options: doc.Processing}, nil
}

// extraInputIDs returns the node ids feeding every input beyond the
// first: these become `connect` attributes in the linearised form.
func extraInputIDs(node drawflowNode) []string {
	var inputKeys []string
	for k := range node.Inputs {
		inputKeys = append(inputKeys, k)
	}
	sort.Strings(inputKeys)

	var extras []string
	for i, k := range inputKeys {
		if i == 0 {
			continue
		}
		for _, link := range node.Inputs[k].Connections {
			extras = append(extras, link.Node)
		}
	}
	return extras
}

// topoSort orders drawflow nodes by dependency, starting from nodes with
// no inputs, using Kahn's algorithm over outgoing connections. Node ids
// are sorted lexically at each step so the result is deterministic. A
// node's indegree is its number of distinct upstream nodes feeding any of
// its inputs.
func topoSort(nodes map[string]drawflowNode) ([]string, error) {
	indegree := make(map[string]int, len(nodes))
	for id := range nodes {
		indegree[id] = 0
	}
	for id, node := range nodes {
		seen := map[string]bool{}
		for _, conn := range node.Inputs {
			for _, link := range conn.Connections {
				seen[link.Node] = true
			}
		}
		indegree[id] = len(seen)
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	visited := make(map[string]bool, len(nodes))
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		order = append(order, id)

		node := nodes[id]
		for _, conn := range node.Outputs {
			for _, link := range conn.Connections {
				indegree[link.Node]--
				if indegree[link.Node] == 0 {
					ready = append(ready, link.Node)
				}
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, fmt.Errorf("pipeline: drawflow graph has a cycle or an unreachable node")
	}
	return order, nil
}

