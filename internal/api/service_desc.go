package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "modeltree.v1.StructureService"

// StructureServer is the server API of ServiceName. Requests and replies
// are free-form structs so the service carries no generated code.
type StructureServer interface {
	Add(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddFragment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Rename(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Move(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTree(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(StructureServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(StructureServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(StructureServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// StructureServiceDesc describes ServiceName for grpc.Server.RegisterService.
var StructureServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StructureServer)(nil),
	Methods: []grpc.MethodDesc{
		handler("Add", StructureServer.Add),
		handler("AddFragment", StructureServer.AddFragment),
		handler("Rename", StructureServer.Rename),
		handler("Move", StructureServer.Move),
		handler("Delete", StructureServer.Delete),
		handler("GetTree", StructureServer.GetTree),
	},
	Metadata: "modeltree/v1/structure.proto",
}

// RegisterStructureServer registers srv on s.
func RegisterStructureServer(s grpc.ServiceRegistrar, srv StructureServer) {
	s.RegisterService(&StructureServiceDesc, srv)
}

// Client calls ServiceName over a client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with req and returns the reply struct.
func (c *Client) Call(ctx context.Context, method string, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
