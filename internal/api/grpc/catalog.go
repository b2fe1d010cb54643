// Package grpc serves the catalog admin service over gRPC. Messages are
// google.protobuf.Struct values, so the service needs no generated code.
package grpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xdbcore/xdb/internal/catalog"
	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/internal/logutil"
)

// ServiceName is the full gRPC service name.
const ServiceName = "xdb.admin.Catalog"

// CatalogServer is the server API of the catalog admin service.
type CatalogServer interface {
	ListDatabases(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DescribeDatabase(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DescribeTable(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListNodes(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetNodeState(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Server implements CatalogServer over a live catalog.
type Server struct {
	md *catalog.MetaData
}

// NewServer creates a catalog admin server.
func NewServer(md *catalog.MetaData) *Server {
	return &Server{md: md}
}

// Register adds s to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// ListDatabases returns {"databases": [{id, name, owner, nodes, online}]}.
func (s *Server) ListDatabases(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	type summary struct {
		ID     int64  `json:"id"`
		Name   string `json:"name"`
		Owner  int64  `json:"owner"`
		Nodes  []int  `json:"nodes"`
		Online bool   `json:"online"`
	}
	var out struct {
		Databases []summary `json:"databases"`
	}
	out.Databases = []summary{}
	for _, db := range s.md.Databases() {
		out.Databases = append(out.Databases, summary{
			ID:     db.ID(),
			Name:   db.Name(),
			Owner:  db.OwnerID(),
			Nodes:  db.NodeIDs(),
			Online: db.IsOnline(),
		})
	}
	return toStruct(out)
}

// DescribeDatabase takes {"database"} and returns the database description.
func (s *Server) DescribeDatabase(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	name, err := stringField(in, "database")
	if err != nil {
		return nil, err
	}
	db, err := s.md.Database(name)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(db.Describe())
}

// DescribeTable takes {"database", "table"} and returns the table description.
func (s *Server) DescribeTable(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	dbName, err := stringField(in, "database")
	if err != nil {
		return nil, err
	}
	tableName, err := stringField(in, "table")
	if err != nil {
		return nil, err
	}
	db, err := s.md.Database(dbName)
	if err != nil {
		return nil, toStatus(err)
	}
	t, err := db.Table(tableName)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(t.Describe())
}

type nodeState struct {
	ID int  `json:"id"`
	Up bool `json:"up"`
}

// ListNodes returns {"nodes": [{id, up}]}.
func (s *Server) ListNodes(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	var out struct {
		Nodes []nodeState `json:"nodes"`
	}
	out.Nodes = []nodeState{}
	for _, n := range s.md.StartupLock().Nodes() {
		out.Nodes = append(out.Nodes, nodeState{ID: n.ID, Up: n.IsUp()})
	}
	return toStruct(out)
}

// SetNodeState takes {"node", "up"} and records the node going up or down.
func (s *Server) SetNodeState(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	nv, ok := f["node"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "node is required")
	}
	n, ok := nv.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != float64(int(n.NumberValue)) {
		return nil, status.Error(codes.InvalidArgument, "node must be an integer")
	}
	uv, ok := f["up"].GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "up must be a boolean")
	}
	id := int(n.NumberValue)
	if err := s.md.StartupLock().SetNodeUp(id, uv.BoolValue); err != nil {
		return nil, toStatus(err)
	}
	logutil.Logger(ctx).Info("node state changed", zap.Int("node", id), zap.Bool("up", uv.BoolValue))
	return toStruct(nodeState{ID: id, Up: uv.BoolValue})
}

func stringField(in *structpb.Struct, name string) (string, error) {
	v, ok := in.GetFields()[name].GetKind().(*structpb.Value_StringValue)
	if !ok || v.StringValue == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return v.StringValue, nil
}

// toStruct converts a JSON-tagged value to a Struct.
func toStruct(v interface{}) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

// toStatus maps an error category to a gRPC status.
func toStatus(err error) error {
	c := codes.Internal
	switch xerrors.GetCategory(err) {
	case xerrors.ErrCategoryLookup:
		c = codes.NotFound
	case xerrors.ErrCategoryIntegrity:
		c = codes.FailedPrecondition
	case xerrors.ErrCategoryConfig:
		c = codes.InvalidArgument
	case xerrors.ErrCategoryLock:
		c = codes.Unavailable
	}
	return status.Error(c, err.Error())
}

// extractRequestID returns the caller's x-request-id or a new one.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 && ids[0] != "" {
			return ids[0]
		}
	}
	return uuid.New().String()
}

// UnaryInterceptor tags the call with a request id, echoes it in the
// response header and turns panics into Internal errors.
func UnaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	requestID := extractRequestID(ctx)
	ctx = logutil.WithFields(ctx, zap.String("request_id", requestID), zap.String("method", info.FullMethod))
	_ = grpc.SetHeader(ctx, metadata.Pairs("x-request-id", requestID))
	defer func() {
		if p := recover(); p != nil {
			logutil.Logger(ctx).Error("admin call panicked", zap.Any("panic", p), zap.Stack("stack"))
			err = status.Error(codes.Internal, fmt.Sprintf("internal error (request %s)", requestID))
		}
	}()
	resp, err = handler(ctx, req)
	if err != nil {
		logutil.Logger(ctx).Debug("admin call failed", zap.Error(err))
	}
	return resp, err
}

func unaryHandler(method string, call func(CatalogServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CatalogServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(CatalogServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CatalogServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("ListDatabases", CatalogServer.ListDatabases),
		unaryHandler("DescribeDatabase", CatalogServer.DescribeDatabase),
		unaryHandler("DescribeTable", CatalogServer.DescribeTable),
		unaryHandler("ListNodes", CatalogServer.ListNodes),
		unaryHandler("SetNodeState", CatalogServer.SetNodeState),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "xdb/admin/catalog.proto",
}

// Client calls the catalog admin service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with in and returns the response Struct.
func (c *Client) Call(ctx context.Context, method string, in map[string]interface{}, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
