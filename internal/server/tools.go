package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/wudi/contractmap/internal/graph"
	"github.com/wudi/contractmap/internal/store"
)

// ToolSpec describes one callable tool to an agent integration: its name,
// what it does and the JSON shape of its arguments.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// tool is one named operation callable through POST /api/tools/:name.
type tool struct {
	spec ToolSpec
	call func(ctx context.Context, args json.RawMessage) (interface{}, error)
}

// tools builds the registry. Argument schemas are written inline; they are
// documentation for the caller, not validated server-side beyond decoding.
func (s *Server) tools() map[string]tool {
	return map[string]tool{
		"scan_repository": {
			spec: ToolSpec{
				Name:        "scan_repository",
				Description: "Scan a registered repository and append its current contract to the version history.",
				InputSchema: objSchema(`"repo": {"type": "string"}`, "repo"),
			},
			call: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
				var in struct {
					Repo string `json:"repo"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				return s.svc.Scan(ctx, in.Repo)
			},
		},
		"assess_impact": {
			spec: ToolSpec{
				Name:        "assess_impact",
				Description: "Scan a repository, classify changes against the previous version and persist an impact report.",
				InputSchema: objSchema(`"repo": {"type": "string"}`, "repo"),
			},
			call: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
				var in struct {
					Repo string `json:"repo"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				return s.svc.Assess(ctx, in.Repo)
			},
		},
		"check_breaking": {
			spec: ToolSpec{
				Name:        "check_breaking",
				Description: "Check whether the repository's working tree introduces breaking changes against the stored latest version, without recording anything.",
				InputSchema: objSchema(`"repo": {"type": "string"}`, "repo"),
			},
			call: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
				var in struct {
					Repo string `json:"repo"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				breaking, err := s.svc.CheckBreaking(ctx, in.Repo)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"breaking": len(breaking) > 0,
					"changes":  breaking,
				}, nil
			},
		},
		"diff_versions": {
			spec: ToolSpec{
				Name:        "diff_versions",
				Description: "Classify the changes between two stored contract versions addressed by content hash.",
				InputSchema: objSchema(`"repo": {"type": "string"}, "from": {"type": "string"}, "to": {"type": "string"}`, "repo", "from", "to"),
			},
			call: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
				var in struct {
					Repo string `json:"repo"`
					From string `json:"from"`
					To   string `json:"to"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				return s.svc.DiffVersions(in.Repo, in.From, in.To)
			},
		},
		"list_consumers": {
			spec: ToolSpec{
				Name:        "list_consumers",
				Description: "List the consumers registered against one producer endpoint.",
				InputSchema: objSchema(`"repo": {"type": "string"}, "method": {"type": "string"}, "path": {"type": "string"}`, "repo", "method", "path"),
			},
			call: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
				var in struct {
					Repo   string `json:"repo"`
					Method string `json:"method"`
					Path   string `json:"path"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				return s.svc.Graph.ConsumersOf(in.Repo, in.Method, in.Path), nil
			},
		},
		"register_consumer": {
			spec: ToolSpec{
				Name:        "register_consumer",
				Description: "Declare that a consumer repository calls one producer endpoint.",
				InputSchema: objSchema(`"consumer": {"type": "string"}, "producer": {"type": "string"}, "method": {"type": "string"}, "path": {"type": "string"}`, "consumer", "producer", "method", "path"),
			},
			call: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
				var edge graph.Edge
				if err := json.Unmarshal(args, &edge); err != nil {
					return nil, err
				}
				added, err := s.svc.AddEdge(edge)
				if err != nil {
					return nil, err
				}
				return map[string]bool{"added": added}, nil
			},
		},
		"record_feedback": {
			spec: ToolSpec{
				Name:        "record_feedback",
				Description: "Record a verdict on a report or an individual change.",
				InputSchema: objSchema(`"target_id": {"type": "string"}, "target_type": {"type": "string"}, "outcome": {"type": "string"}, "context": {"type": "string"}`, "target_id", "target_type", "outcome"),
			},
			call: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
				var fb store.Feedback
				if err := json.Unmarshal(args, &fb); err != nil {
					return nil, err
				}
				if err := s.svc.RecordFeedback(fb); err != nil {
					return nil, err
				}
				return map[string]bool{"recorded": true}, nil
			},
		},
	}
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	registry := s.tools()
	specs := make([]ToolSpec, 0, len(registry))
	for _, t := range registry {
		specs = append(specs, t.spec)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": specs})
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := param(r, "name")
	t, ok := s.tools()[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown tool %q", name)})
		return
	}

	var args json.RawMessage = []byte("{}")
	if r.Body != nil {
		var req struct {
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && len(req.Arguments) > 0 {
			args = req.Arguments
		}
	}

	result, err := t.call(r.Context(), args)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]interface{}{
			"tool":  name,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tool":   name,
		"result": result,
	})
}

// objSchema builds a small JSON schema for an object with the given property
// fragment and required names.
func objSchema(props string, required ...string) json.RawMessage {
	req, _ := json.Marshal(required)
	return json.RawMessage(fmt.Sprintf(
		`{"type": "object", "properties": {%s}, "required": %s}`, props, req))
}
