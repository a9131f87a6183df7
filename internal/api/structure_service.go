package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/modeltree/internal/format"
	"github.com/signalsfoundry/modeltree/internal/logging"
	"github.com/signalsfoundry/modeltree/internal/scope"
	"github.com/signalsfoundry/modeltree/internal/sim"
	"github.com/signalsfoundry/modeltree/internal/structure"
	"github.com/signalsfoundry/modeltree/model"
)

// Nodes are addressed by a dotted path starting at the root (".Sim.Field"),
// by registry id, or by bare name, which picks the first such model in a
// pre-order walk of the tree.

type addRequest struct {
	Parent string         `json:"parent" validate:"required"`
	Kind   string         `json:"kind" validate:"required"`
	Name   string         `json:"name" validate:"required"`
	Props  map[string]any `json:"props"`
	Strict *bool          `json:"strict"`
}

type addFragmentRequest struct {
	Parent   string `json:"parent" validate:"required"`
	Fragment string `json:"fragment" validate:"required"`
	Strict   *bool  `json:"strict"`
}

type renameRequest struct {
	Node string `json:"node" validate:"required"`
	Name string `json:"name" validate:"required"`
}

type moveRequest struct {
	Node   string `json:"node" validate:"required"`
	Parent string `json:"parent" validate:"required"`
}

type deleteRequest struct {
	Node string `json:"node" validate:"required"`
}

type getTreeRequest struct {
	Node string `json:"node"`
}

// StructureService exposes the structural engine of one simulation over
// gRPC. All mutations run under the simulation's mutation lock.
type StructureService struct {
	sim      *sim.Simulation
	log      logging.Logger
	validate *validator.Validate
}

// NewStructureService binds the service to s.
func NewStructureService(s *sim.Simulation, log logging.Logger) *StructureService {
	if log == nil {
		log = logging.Noop()
	}
	return &StructureService{
		sim:      s,
		log:      log,
		validate: validator.New(),
	}
}

// Add creates a node of a registered kind under parent.
func (s *StructureService) Add(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req addRequest
	if err := s.decode(in, &req); err != nil {
		return nil, ToStatusError(err)
	}

	node, err := model.NewOfKind(req.Kind, req.Name)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if len(req.Props) > 0 {
		c, ok := node.Component.(model.Configurable)
		if !ok {
			return nil, ToStatusError(fmt.Errorf("%w: kind %s takes no properties", ErrInvalidRequest, req.Kind))
		}
		if err := c.SetProps(req.Props); err != nil {
			return nil, ToStatusError(fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		}
	}

	var out *structpb.Struct
	err = s.sim.Mutate(func(e *structure.Engine) error {
		parent, err := s.resolve(ctx, req.Parent)
		if err != nil {
			return err
		}
		added, err := e.Add(ctx, node, parent, structure.WithStrictLinks(s.strict(req.Strict)))
		if added != nil {
			out, _ = nodeStruct(added)
		}
		return err
	})
	if err != nil {
		logging.FromContext(ctx, s.log).Warn(ctx, "add failed", logging.String("parent", req.Parent), logging.Err(err))
		return nil, ToStatusError(err)
	}
	return out, nil
}

// AddFragment materialises a serialized fragment under parent.
func (s *StructureService) AddFragment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req addFragmentRequest
	if err := s.decode(in, &req); err != nil {
		return nil, ToStatusError(err)
	}

	var out *structpb.Struct
	err := s.sim.Mutate(func(e *structure.Engine) error {
		parent, err := s.resolve(ctx, req.Parent)
		if err != nil {
			return err
		}
		added, err := e.AddString(ctx, req.Fragment, parent, structure.WithStrictLinks(s.strict(req.Strict)))
		if added != nil {
			out, _ = nodeStruct(added)
		}
		return err
	})
	if err != nil {
		logging.FromContext(ctx, s.log).Warn(ctx, "add fragment failed", logging.String("parent", req.Parent), logging.Err(err))
		return nil, ToStatusError(err)
	}
	return out, nil
}

// Rename changes a node's name, suffixing it when a sibling already has it.
func (s *StructureService) Rename(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req renameRequest
	if err := s.decode(in, &req); err != nil {
		return nil, ToStatusError(err)
	}

	var out *structpb.Struct
	err := s.sim.Mutate(func(e *structure.Engine) error {
		node, err := s.resolve(ctx, req.Node)
		if err != nil {
			return err
		}
		if err := e.Rename(ctx, node, req.Name); err != nil {
			return err
		}
		out, err = nodeStruct(node)
		return err
	})
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// Move re-parents a node. Its id is preserved.
func (s *StructureService) Move(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req moveRequest
	if err := s.decode(in, &req); err != nil {
		return nil, ToStatusError(err)
	}

	var out *structpb.Struct
	err := s.sim.Mutate(func(e *structure.Engine) error {
		node, err := s.resolve(ctx, req.Node)
		if err != nil {
			return err
		}
		parent, err := s.resolve(ctx, req.Parent)
		if err != nil {
			return err
		}
		if err := e.Move(ctx, node, parent); err != nil {
			return err
		}
		out, err = nodeStruct(node)
		return err
	})
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// Delete detaches a node. Deleting an unknown address is not an error; the
// response reports whether anything was removed.
func (s *StructureService) Delete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req deleteRequest
	if err := s.decode(in, &req); err != nil {
		return nil, ToStatusError(err)
	}

	deleted := false
	err := s.sim.Mutate(func(e *structure.Engine) error {
		node, err := s.resolve(ctx, req.Node)
		if err != nil {
			return nil
		}
		deleted = e.Delete(ctx, node)
		return nil
	})
	if err != nil {
		return nil, ToStatusError(err)
	}
	return structpb.NewStruct(map[string]any{"deleted": deleted})
}

// GetTree returns the subtree at node, or the whole simulation, both as a
// native document and as indented text.
func (s *StructureService) GetTree(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req getTreeRequest
	if err := s.decode(in, &req); err != nil {
		return nil, ToStatusError(err)
	}

	var (
		raw      []byte
		text     string
		bindings map[string][]string
		err      error
	)
	s.sim.View(func(root *model.Node) {
		node := root
		if req.Node != "" {
			if node, err = s.resolve(ctx, req.Node); err != nil {
				return
			}
		}
		if raw, err = format.Encode(node); err != nil {
			return
		}
		text = format.Describe(node)
		bindings = s.sim.Links().Bindings(node)
	})
	if err != nil {
		return nil, ToStatusError(err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, ToStatusError(err)
	}
	linked := make(map[string]any, len(bindings))
	for name, ids := range bindings {
		targets := make([]any, len(ids))
		for i, id := range ids {
			targets[i] = id
		}
		linked[name] = targets
	}
	return structpb.NewStruct(map[string]any{
		"document": doc,
		"text":     text,
		"links":    linked,
	})
}

func (s *StructureService) decode(in *structpb.Struct, dst any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// resolve must be called with the mutation lock held.
func (s *StructureService) resolve(ctx context.Context, addr string) (*model.Node, error) {
	_, span := StartChildSpan(ctx, "api.resolve", "node", addr)
	defer span.End()

	var n *model.Node
	if strings.HasPrefix(addr, ".") {
		n = s.sim.Node().FindByPath(addr)
	} else if n = s.sim.Registry().Get(addr); n == nil {
		if found := scope.FindByName(s.sim.Cache(), s.sim.Node(), addr); len(found) > 0 {
			n = found[0]
		}
	}
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, addr)
	}
	return n, nil
}

func (s *StructureService) strict(override *bool) bool {
	if override != nil {
		return *override
	}
	return s.sim.StrictLinks()
}

func nodeStruct(n *model.Node) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":        n.ID(),
		"name":      n.Name,
		"kind":      n.Kind,
		"path":      n.FullPath(),
		"read_only": n.ReadOnly,
	})
}
