package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/apparatus-check/internal/core/service"
)

const (
	ServiceName = "inventorycheck.v1.CheckWorkflow"

	// UserMetadataKey carries the authenticated user id in call metadata.
	UserMetadataKey = "x-user-id"
)

// jsonCodec carries the service's plain Go messages as JSON. It is forced on
// both ends of the connection and never registered globally.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

// ServerCodec is the server option every CheckWorkflow server needs.
func ServerCodec() grpc.ServerOption {
	return grpc.ForceServerCodec(jsonCodec{})
}

// CheckWorkflowServer is the gRPC surface of the check workflow.
type CheckWorkflowServer interface {
	StartCheck(ctx context.Context, req *service.StartCheckRequest) (*CheckView, error)
	GetCheck(ctx context.Context, req *CheckRef) (*CheckView, error)
	GetProgress(ctx context.Context, req *CheckRef) (*service.ProgressReport, error)
	VerifyItem(ctx context.Context, req *service.VerifyRequest) (*VerifyReply, error)
	CompleteCheck(ctx context.Context, req *CheckRef) (*CheckView, error)
	AbandonCheck(ctx context.Context, req *AbandonRequest) (*CheckView, error)
	AcquireCompartment(ctx context.Context, req *CompartmentRef) (*Empty, error)
	ReleaseCompartment(ctx context.Context, req *CompartmentRef) (*Empty, error)
	TakeOverCompartment(ctx context.Context, req *CompartmentRef) (*TakeOverReply, error)
	EndSession(ctx context.Context, req *Empty) (*EndSessionReply, error)
}

var CheckWorkflowServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CheckWorkflowServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("StartCheck", CheckWorkflowServer.StartCheck),
		unaryMethod("GetCheck", CheckWorkflowServer.GetCheck),
		unaryMethod("GetProgress", CheckWorkflowServer.GetProgress),
		unaryMethod("VerifyItem", CheckWorkflowServer.VerifyItem),
		unaryMethod("CompleteCheck", CheckWorkflowServer.CompleteCheck),
		unaryMethod("AbandonCheck", CheckWorkflowServer.AbandonCheck),
		unaryMethod("AcquireCompartment", CheckWorkflowServer.AcquireCompartment),
		unaryMethod("ReleaseCompartment", CheckWorkflowServer.ReleaseCompartment),
		unaryMethod("TakeOverCompartment", CheckWorkflowServer.TakeOverCompartment),
		unaryMethod("EndSession", CheckWorkflowServer.EndSession),
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterCheckWorkflowServer(s grpc.ServiceRegistrar, srv CheckWorkflowServer) {
	s.RegisterService(&CheckWorkflowServiceDesc, srv)
}

func unaryMethod[Req, Resp any](name string, call func(CheckWorkflowServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(CheckWorkflowServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*Req))
			})
		},
	}
}

type GRPCHandler struct {
	workflow *service.CheckWorkflowService
}

func NewGRPCHandler(workflow *service.CheckWorkflowService) *GRPCHandler {
	return &GRPCHandler{workflow: workflow}
}

func (h *GRPCHandler) StartCheck(ctx context.Context, req *service.StartCheckRequest) (*CheckView, error) {
	user, err := grpcUser(ctx)
	if err != nil {
		return nil, err
	}
	check, err := h.workflow.StartCheck(ctx, user, *req)
	if err != nil {
		return nil, grpcError(err)
	}
	view := checkView(check)
	return &view, nil
}

func (h *GRPCHandler) GetCheck(ctx context.Context, req *CheckRef) (*CheckView, error) {
	user, err := grpcUser(ctx)
	if err != nil {
		return nil, err
	}
	check, err := h.workflow.GetCheck(ctx, user, req.CheckID)
	if err != nil {
		return nil, grpcError(err)
	}
	view := checkView(check)
	return &view, nil
}

func (h *GRPCHandler) GetProgress(ctx context.Context, req *CheckRef) (*service.ProgressReport, error) {
	user, err := grpcUser(ctx)
	if err != nil {
		return nil, err
	}
	report, err := h.workflow.GetProgress(ctx, user, req.CheckID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &report, nil
}

func (h *GRPCHandler) VerifyItem(ctx context.Context, req *service.VerifyRequest) (*VerifyReply, error) {
	user, err := grpcUser(ctx)
	if err != nil {
		return nil, err
	}
	result, err := h.workflow.VerifyItem(ctx, user, *req)
	if err != nil {
		return nil, grpcError(err)
	}
	reply := verifyReply(result)
	return &reply, nil
}

func (h *GRPCHandler) CompleteCheck(ctx context.Context, req *CheckRef) (*CheckView, error) {
	user, err := grpcUser(ctx)
	if err != nil {
		return nil, err
	}
	check, err := h.workflow.CompleteCheck(ctx, user, req.CheckID)
	if err != nil {
		return nil, grpcError(err)
	}
	view := checkView(check)
	return &view, nil
}

func (h *GRPCHandler) AbandonCheck(ctx context.Context, req *AbandonRequest) (*CheckView, error) {
	user, err := grpcUser(ctx)
	if err != nil {
		return nil, err
	}
	check, err := h.workflow.AbandonCheck(ctx, user, req.CheckID, req.Reason)
	if err != nil {
		return nil, grpcError(err)
	}
	view := checkView(check)
	return &view, nil
}

func (h *GRPCHandler) AcquireCompartment(ctx context.Context, req *CompartmentRef) (*Empty, error) {
	user, err := grpcUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.workflow.AcquireCompartment(ctx, user, req.CheckID, req.CompartmentID); err != nil {
		return nil, grpcError(err)
	}
	return &Empty{}, nil
}

func (h *GRPCHandler) ReleaseCompartment(ctx context.Context, req *CompartmentRef) (*Empty, error) {
	user, err := grpcUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.workflow.ReleaseCompartment(ctx, user, req.CheckID, req.CompartmentID); err != nil {
		return nil, grpcError(err)
	}
	return &Empty{}, nil
}

func (h *GRPCHandler) TakeOverCompartment(ctx context.Context, req *CompartmentRef) (*TakeOverReply, error) {
	user, err := grpcUser(ctx)
	if err != nil {
		return nil, err
	}
	previous, err := h.workflow.TakeOverCompartment(ctx, user, req.CheckID, req.CompartmentID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &TakeOverReply{PreviousHolder: previous}, nil
}

func (h *GRPCHandler) EndSession(ctx context.Context, _ *Empty) (*EndSessionReply, error) {
	user, err := grpcUser(ctx)
	if err != nil {
		return nil, err
	}
	released := h.workflow.EndSession(ctx, user)
	return &EndSessionReply{Released: len(released)}, nil
}

func grpcUser(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if values := md.Get(UserMetadataKey); len(values) > 0 && values[0] != "" {
			return values[0], nil
		}
	}
	return "", status.Error(codes.Unauthenticated, "missing "+UserMetadataKey+" metadata")
}

// CheckWorkflowClient calls a CheckWorkflow server. The user id is taken
// from outgoing metadata; see WithUser.
type CheckWorkflowClient struct {
	cc grpc.ClientConnInterface
}

func NewCheckWorkflowClient(cc grpc.ClientConnInterface) *CheckWorkflowClient {
	return &CheckWorkflowClient{cc: cc}
}

// WithUser attaches the user id to an outgoing context.
func WithUser(ctx context.Context, userID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, UserMetadataKey, userID)
}

func (c *CheckWorkflowClient) invoke(ctx context.Context, method string, in, out any) error {
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, grpc.ForceCodec(jsonCodec{}))
}

func (c *CheckWorkflowClient) StartCheck(ctx context.Context, req *service.StartCheckRequest) (*CheckView, error) {
	out := new(CheckView)
	return out, c.invoke(ctx, "StartCheck", req, out)
}

func (c *CheckWorkflowClient) GetCheck(ctx context.Context, req *CheckRef) (*CheckView, error) {
	out := new(CheckView)
	return out, c.invoke(ctx, "GetCheck", req, out)
}

func (c *CheckWorkflowClient) GetProgress(ctx context.Context, req *CheckRef) (*service.ProgressReport, error) {
	out := new(service.ProgressReport)
	return out, c.invoke(ctx, "GetProgress", req, out)
}

func (c *CheckWorkflowClient) VerifyItem(ctx context.Context, req *service.VerifyRequest) (*VerifyReply, error) {
	out := new(VerifyReply)
	return out, c.invoke(ctx, "VerifyItem", req, out)
}

func (c *CheckWorkflowClient) CompleteCheck(ctx context.Context, req *CheckRef) (*CheckView, error) {
	out := new(CheckView)
	return out, c.invoke(ctx, "CompleteCheck", req, out)
}

func (c *CheckWorkflowClient) AbandonCheck(ctx context.Context, req *AbandonRequest) (*CheckView, error) {
	out := new(CheckView)
	return out, c.invoke(ctx, "AbandonCheck", req, out)
}

func (c *CheckWorkflowClient) AcquireCompartment(ctx context.Context, req *CompartmentRef) error {
	return c.invoke(ctx, "AcquireCompartment", req, new(Empty))
}

func (c *CheckWorkflowClient) ReleaseCompartment(ctx context.Context, req *CompartmentRef) error {
	return c.invoke(ctx, "ReleaseCompartment", req, new(Empty))
}

func (c *CheckWorkflowClient) TakeOverCompartment(ctx context.Context, req *CompartmentRef) (*TakeOverReply, error) {
	out := new(TakeOverReply)
	return out, c.invoke(ctx, "TakeOverCompartment", req, out)
}

func (c *CheckWorkflowClient) EndSession(ctx context.Context) (*EndSessionReply, error) {
	out := new(EndSessionReply)
	return out, c.invoke(ctx, "EndSession", &Empty{}, out)
}
