package thriftapi

import (
	"github.com/apache/thrift/lib/go/thrift"
	"go.uber.org/zap"

	"transit-tracker/internal/auth"
	"transit-tracker/internal/service"
	"transit-tracker/internal/transport"
)

type Server struct {
	server *thrift.TSimpleServer
}

// NewServer listens on addr with framed binary transport.
func NewServer(addr string, svc *service.Service, ing transport.Ingestor, authenticator *auth.Authenticator, log *zap.Logger) (*Server, error) {
	socket, err := thrift.NewTServerSocket(addr)
	if err != nil {
		return nil, err
	}
	processor := NewProcessor(svc, ing, authenticator, log)
	transportFactory := thrift.NewTFramedTransportFactoryConf(thrift.NewTTransportFactory(), &thrift.TConfiguration{})
	protocolFactory := thrift.NewTBinaryProtocolFactoryConf(&thrift.TConfiguration{})
	server := thrift.NewTSimpleServer4(processor, socket, transportFactory, protocolFactory)
	return &Server{server: server}, nil
}

func (s *Server) Serve() error {
	return s.server.Serve()
}

func (s *Server) Stop() error {
	return s.server.Stop()
}
