package main

import (
	"context"
	"fmt"
	"net"

	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/bobg/lds/remote"
	"github.com/bobg/lds/remote/rpc"
)

// serve exposes the configured remote drive over gRPC,
// for use as an "rpc" remote by other clients.
func (c maincmd) serve(ctx context.Context, addr string, _ []string) error {
	d, err := remote.Create(ctx, c.conf.Remote)
	if err != nil {
		return err
	}

	gs := grpc.NewServer()
	rpc.NewServer(d, c.logger).Register(gs)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}
	defer lis.Close()

	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()

	fmt.Printf("Listening on %s\n", lis.Addr())

	return gs.Serve(lis)
}
