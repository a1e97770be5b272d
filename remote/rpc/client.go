package rpc

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bobg/lds"
	"github.com/bobg/lds/remote"
)

var _ remote.Drive = &Client{}

// Client is a remote.Drive backed by a Server.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, req, resp interface{}) error {
	err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, req, resp, grpc.CallContentSubtype(codecName))
	if code := status.Code(err); code == codes.NotFound {
		return errors.Wrap(remote.ErrNotFound, status.Convert(err).Message())
	}
	return err
}

func (c *Client) ListCreatedSince(ctx context.Context, since *time.Time) ([]remote.FileID, error) {
	var resp ListResponse
	err := c.call(ctx, "ListCreatedSince", &ListRequest{Since: since}, &resp)
	return resp.IDs, err
}

func (c *Client) ListCreatedUntil(ctx context.Context, until time.Time) ([]remote.FileID, error) {
	var resp ListResponse
	err := c.call(ctx, "ListCreatedUntil", &ListRequest{Until: &until}, &resp)
	return resp.IDs, err
}

func (c *Client) DownloadLinkedData(ctx context.Context, id remote.FileID) (remote.Payload, error) {
	var resp PayloadResponse
	if err := c.call(ctx, "DownloadLinkedData", &IDRequest{ID: id}, &resp); err != nil {
		return remote.Payload{}, err
	}
	return remote.Payload{Data: resp.Data, MediaType: resp.MediaType}, nil
}

func (c *Client) UploadLinkedData(ctx context.Context, records []lds.LinkedData, created time.Time) (remote.FileID, error) {
	var resp IDResponse
	err := c.call(ctx, "UploadLinkedData", &UploadLinkedDataRequest{Records: records, Created: created}, &resp)
	return resp.ID, err
}

func (c *Client) DownloadResource(ctx context.Context, id remote.FileID) (remote.Payload, error) {
	var resp PayloadResponse
	if err := c.call(ctx, "DownloadResource", &IDRequest{ID: id}, &resp); err != nil {
		return remote.Payload{}, err
	}
	return remote.Payload{Data: resp.Data, MediaType: resp.MediaType}, nil
}

func (c *Client) UploadResource(ctx context.Context, data []byte, h lds.Hash, mediaType, name string) (remote.FileID, error) {
	var resp IDResponse
	err := c.call(ctx, "UploadResource", &UploadResourceRequest{Data: data, Hash: h, MediaType: mediaType, Name: name}, &resp)
	return resp.ID, err
}

func (c *Client) ResourcesAlreadyUploaded(ctx context.Context, hashes []lds.Hash) (map[lds.Hash]remote.FileID, error) {
	var resp ResourcesResponse
	if err := c.call(ctx, "ResourcesAlreadyUploaded", &ResourcesRequest{Hashes: hashes}, &resp); err != nil {
		return nil, err
	}
	if resp.Found == nil {
		resp.Found = make(map[lds.Hash]remote.FileID)
	}
	return resp.Found, nil
}

func (c *Client) Delete(ctx context.Context, id remote.FileID) error {
	return c.call(ctx, "Delete", &IDRequest{ID: id}, &Empty{})
}

func init() {
	remote.Register("rpc", func(_ context.Context, conf map[string]interface{}) (remote.Drive, error) {
		addr, ok := conf["addr"].(string)
		if !ok {
			return nil, errors.New(`missing "addr" parameter`)
		}
		insecure, _ := conf["insecure"].(bool)
		var opts []grpc.DialOption
		if insecure {
			opts = append(opts, grpc.WithInsecure())
		}
		cc, err := grpc.Dial(addr, opts...)
		if err != nil {
			return nil, errors.Wrapf(err, "connecting to %s", addr)
		}
		return NewClient(cc), nil
	})
}
