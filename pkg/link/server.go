package link

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"

	"golang.org/x/crypto/sha3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/torquelabs/brainstem/internal/types"
	"github.com/torquelabs/brainstem/pkg/patch"
)

var (
	// ErrBadSlot is returned for uploads to a slot outside 1..8.
	ErrBadSlot = errors.New("upload to invalid slot")
)

// Service is the brain-side surface the link exposes.
type Service interface {
	// Version returns the brain's version string.
	Version() string

	// Upload installs a full program image into a slot.
	Upload(ctx context.Context, slot types.Slot, name string, image []byte) (types.Fingerprint, error)

	// StagePatch writes a patch descriptor and payload into the brain's
	// patch region for the next boot to consume.
	StagePatch(ctx context.Context, desc patch.Descriptor, payload []byte) error
}

// ServerConfig holds link server configuration.
type ServerConfig struct {
	// Token is the shared upload secret. Empty disables authentication.
	Token string
}

// Server serves the upload link over gRPC.
type Server struct {
	svc  Service
	grpc *grpc.Server

	// tokenDigest is the sha3-256 of the shared secret; the raw token is
	// not kept around after startup.
	tokenDigest []byte
}

// NewServer wraps a Service into a link server.
func NewServer(svc Service, cfg ServerConfig) *Server {
	s := &Server{svc: svc}
	if cfg.Token != "" {
		d := sha3.Sum256([]byte(cfg.Token))
		s.tokenDigest = d[:]
	}
	s.grpc = grpc.NewServer(
		grpc.ForceServerCodec(gobCodec{}),
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.UnaryInterceptor(s.authenticate),
	)
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// Serve blocks serving the link on lis.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop stops the server, draining in-flight calls.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

// authenticate compares the caller's token digest against the configured one.
func (s *Server) authenticate(ctx context.Context, req interface{},
	info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if s.tokenDigest == nil {
		return handler(ctx, req)
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}
	d := sha3.Sum256([]byte(vals[0]))
	if subtle.ConstantTimeCompare(d[:], s.tokenDigest) != 1 {
		return nil, status.Error(codes.Unauthenticated, "bad token")
	}
	return handler(ctx, req)
}

func (s *Server) ping(context.Context, *PingRequest) (*PingResponse, error) {
	return &PingResponse{Version: s.svc.Version()}, nil
}

func (s *Server) upload(ctx context.Context, req *UploadRequest) (*UploadResponse, error) {
	slot, err := types.SlotFromInt(int(req.Slot))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v: %d", ErrBadSlot, req.Slot)
	}
	if uint32(len(req.Image)) > types.ImageMaxSize {
		return nil, status.Errorf(codes.InvalidArgument, "image too large: %d bytes", len(req.Image))
	}
	fp, err := s.svc.Upload(ctx, slot, req.Name, req.Image)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "upload: %v", err)
	}
	return &UploadResponse{Fingerprint: fp, Size: uint32(len(req.Image))}, nil
}

func (s *Server) stagePatch(ctx context.Context, req *StageRequest) (*StageResponse, error) {
	desc := patch.Descriptor{
		Magic:      req.Magic,
		Version:    req.Version,
		PayloadLen: req.PayloadLen,
		BaseLen:    req.BaseLen,
	}
	if err := desc.Validate(); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "descriptor: %v", err)
	}
	if uint32(len(req.Payload)) != req.PayloadLen {
		return nil, status.Error(codes.InvalidArgument, "payload length mismatch")
	}
	if err := s.svc.StagePatch(ctx, desc, req.Payload); err != nil {
		return nil, status.Errorf(codes.Internal, "stage: %v", err)
	}
	return &StageResponse{Pending: true}, nil
}

// serviceDesc wires the three unary methods by hand; there is no generated
// code behind this service.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: pingHandler},
		{MethodName: "Upload", Handler: uploadHandler},
		{MethodName: "StagePatch", Handler: stageHandler},
	},
}

func pingHandler(srv interface{}, ctx context.Context,
	dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(PingRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).ping(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPing}
	return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).ping(ctx, req.(*PingRequest))
	})
}

func uploadHandler(srv interface{}, ctx context.Context,
	dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(UploadRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).upload(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodUpload}
	return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).upload(ctx, req.(*UploadRequest))
	})
}

func stageHandler(srv interface{}, ctx context.Context,
	dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(StageRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).stagePatch(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodStage}
	return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).stagePatch(ctx, req.(*StageRequest))
	})
}
