package flight

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

func NewFlightServer(opts Options, grpcOpts ...grpc.ServerOption) flight.Server {
	server := flight.NewServerWithMiddleware(nil, grpcOpts...)
	server.RegisterFlightService(NewGeometryFlightServer(opts))
	return server
}

// StartFlightServer serves the geometry exchange on port until the server stops.
func StartFlightServer(opts Options, port int, grpcOpts ...grpc.ServerOption) error {
	addr := fmt.Sprintf(":%d", port)
	server := NewFlightServer(opts, grpcOpts...)

	logrus.WithField("addr", addr).Info("starting geometry flight server")
	if err := server.Init(addr); err != nil {
		return err
	}
	return server.Serve()
}
