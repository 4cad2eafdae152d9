package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"google.golang.org/grpc"

	"xdao.co/glyphvault/storage/grpcgw"
	"xdao.co/glyphvault/storage/localfs"
)

func main() {
	fs := flag.NewFlagSet("glyphgwd", flag.ExitOnError)
	listen := fs.String("listen", "127.0.0.1:7788", "listen address")
	dir := fs.String("dir", "", "content gateway directory (required)")

	_ = fs.Parse(os.Args[1:])
	if *dir == "" {
		fmt.Fprintln(os.Stderr, "glyphgwd: --dir is required")
		os.Exit(2)
	}

	gw, err := localfs.New(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer lis.Close()

	s := grpc.NewServer()
	grpcgw.RegisterGatewayServer(s, &grpcgw.Server{Gateway: gw})

	fmt.Fprintf(os.Stderr, "glyphgwd listening on %s (dir=%s)\n", lis.Addr().String(), *dir)
	if err := s.Serve(lis); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
