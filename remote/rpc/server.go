// Package rpc exposes a remote.Drive over gRPC
// and implements a remote.Drive that talks to such a server.
package rpc

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bobg/lds/remote"
)

const serviceName = "lds.Drive"

// Server serves a remote.Drive.
type Server struct {
	d      remote.Drive
	logger logrus.FieldLogger
}

type driveServer interface {
	drive() remote.Drive
}

var _ driveServer = &Server{}

// NewServer produces a Server for d.
// A nil logger means logrus.StandardLogger().
func NewServer(d remote.Drive, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{d: d, logger: logger.WithField("component", "rpc")}
}

func (s *Server) drive() remote.Drive { return s.d }

// Register registers s with a gRPC server.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*driveServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListCreatedSince", func(ctx context.Context, d remote.Drive, req *ListRequest) (*ListResponse, error) {
			ids, err := d.ListCreatedSince(ctx, req.Since)
			return &ListResponse{IDs: ids}, err
		}),
		unary("ListCreatedUntil", func(ctx context.Context, d remote.Drive, req *ListRequest) (*ListResponse, error) {
			if req.Until == nil {
				return nil, status.Error(codes.InvalidArgument, "missing until")
			}
			ids, err := d.ListCreatedUntil(ctx, *req.Until)
			return &ListResponse{IDs: ids}, err
		}),
		unary("DownloadLinkedData", func(ctx context.Context, d remote.Drive, req *IDRequest) (*PayloadResponse, error) {
			p, err := d.DownloadLinkedData(ctx, req.ID)
			return &PayloadResponse{Data: p.Data, MediaType: p.MediaType}, err
		}),
		unary("UploadLinkedData", func(ctx context.Context, d remote.Drive, req *UploadLinkedDataRequest) (*IDResponse, error) {
			id, err := d.UploadLinkedData(ctx, req.Records, req.Created)
			return &IDResponse{ID: id}, err
		}),
		unary("DownloadResource", func(ctx context.Context, d remote.Drive, req *IDRequest) (*PayloadResponse, error) {
			p, err := d.DownloadResource(ctx, req.ID)
			return &PayloadResponse{Data: p.Data, MediaType: p.MediaType}, err
		}),
		unary("UploadResource", func(ctx context.Context, d remote.Drive, req *UploadResourceRequest) (*IDResponse, error) {
			id, err := d.UploadResource(ctx, req.Data, req.Hash, req.MediaType, req.Name)
			return &IDResponse{ID: id}, err
		}),
		unary("ResourcesAlreadyUploaded", func(ctx context.Context, d remote.Drive, req *ResourcesRequest) (*ResourcesResponse, error) {
			found, err := d.ResourcesAlreadyUploaded(ctx, req.Hashes)
			return &ResourcesResponse{Found: found}, err
		}),
		unary("Delete", func(ctx context.Context, d remote.Drive, req *IDRequest) (*Empty, error) {
			return &Empty{}, d.Delete(ctx, req.ID)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lds/drive",
}

// unary adapts a typed drive call to a gRPC method handler.
func unary[Req, Resp any](method string, f func(context.Context, remote.Drive, *Req) (*Resp, error)) grpc.MethodDesc {
	call := func(ctx context.Context, srv interface{}, req *Req) (interface{}, error) {
		resp, err := f(ctx, srv.(driveServer).drive(), req)
		if err != nil {
			if s, ok := srv.(*Server); ok {
				s.logger.WithError(err).WithField("method", method).Warn("drive call failed")
			}
			return nil, toStatus(err)
		}
		return resp, nil
	}

	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(ctx, srv, req)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + serviceName + "/" + method,
			}
			return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(ctx, srv, req.(*Req))
			})
		},
	}
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, remote.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Unknown, err.Error())
}
