package thriftapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/apache/thrift/lib/go/thrift"
	"go.uber.org/zap"

	"transit-tracker/internal/auth"
	"transit-tracker/internal/domain"
	"transit-tracker/internal/service"
	"transit-tracker/internal/transport"
)

// Processor serves the TransitTracker thrift service without generated code.
type Processor struct {
	svc          *service.Service
	ingest       transport.Ingestor
	auth         *auth.Authenticator
	log          *zap.Logger
	processorMap map[string]thrift.TProcessorFunction
}

type handlerFunc func(ctx context.Context, seqID int32, in, out thrift.TProtocol) (bool, thrift.TException)

type processorFunc struct {
	fn handlerFunc
}

func (p processorFunc) Process(ctx context.Context, seqID int32, in, out thrift.TProtocol) (bool, thrift.TException) {
	return p.fn(ctx, seqID, in, out)
}

func NewProcessor(svc *service.Service, ing transport.Ingestor, authenticator *auth.Authenticator, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Processor{svc: svc, ingest: ing, auth: authenticator, log: log}
	p.processorMap = map[string]thrift.TProcessorFunction{
		"IssueToken":     processorFunc{fn: p.handleIssueToken},
		"GetVehicle":     processorFunc{fn: p.handleGetVehicle},
		"UpdateLocation": processorFunc{fn: p.handleUpdateLocation},
		"ChangeStatus":   processorFunc{fn: p.handleChangeStatus},
		"RunIngestion":   processorFunc{fn: p.handleRunIngestion},
	}
	return p
}

func (p *Processor) ProcessorMap() map[string]thrift.TProcessorFunction {
	return p.processorMap
}

func (p *Processor) AddToProcessorMap(name string, processor thrift.TProcessorFunction) {
	p.processorMap[name] = processor
}

func (p *Processor) Process(ctx context.Context, in, out thrift.TProtocol) (bool, thrift.TException) {
	name, messageType, seqID, err := in.ReadMessageBegin(ctx)
	if err != nil {
		return false, thrift.NewTApplicationException(thrift.PROTOCOL_ERROR, err.Error())
	}
	if messageType != thrift.CALL && messageType != thrift.ONEWAY {
		return p.writeException(ctx, out, name, seqID, thrift.NewTApplicationException(thrift.PROTOCOL_ERROR, "invalid message type"))
	}
	processor, ok := p.processorMap[name]
	if !ok {
		_ = in.Skip(ctx, thrift.STRUCT)
		_ = in.ReadMessageEnd(ctx)
		return p.writeException(ctx, out, name, seqID, thrift.NewTApplicationException(thrift.UNKNOWN_METHOD, "unknown method"))
	}
	start := time.Now()
	ok, texErr := processor.Process(ctx, seqID, in, out)
	p.log.Debug("thrift call", zap.String("method", name), zap.Bool("ok", ok), zap.Duration("duration", time.Since(start)))
	return ok, texErr
}

func (p *Processor) handleIssueToken(ctx context.Context, seqID int32, in, out thrift.TProtocol) (bool, thrift.TException) {
	const method = "IssueToken"
	var name, role string
	err := readRequest(ctx, in, func(id int16, _ thrift.TType) (handled bool, err error) {
		switch id {
		case 1:
			name, err = in.ReadString(ctx)
		case 2:
			role, err = in.ReadString(ctx)
		default:
			return false, nil
		}
		return true, err
	})
	if err != nil {
		return p.protocolError(ctx, out, method, seqID, err)
	}
	token, exp, err := p.auth.IssueToken(name, role)
	if err != nil {
		return p.writeException(ctx, out, method, seqID, mapError(err))
	}
	return p.writeReply(ctx, out, method, seqID, func(out thrift.TProtocol) error {
		return writeTokenResponse(ctx, out, token, exp.Unix())
	})
}

func (p *Processor) handleGetVehicle(ctx context.Context, seqID int32, in, out thrift.TProtocol) (bool, thrift.TException) {
	const method = "GetVehicle"
	var token, vehicleID string
	err := readRequest(ctx, in, func(id int16, _ thrift.TType) (handled bool, err error) {
		switch id {
		case 1:
			token, err = in.ReadString(ctx)
		case 2:
			vehicleID, err = in.ReadString(ctx)
		default:
			return false, nil
		}
		return true, err
	})
	if err != nil {
		return p.protocolError(ctx, out, method, seqID, err)
	}
	if _, err := p.authorize(token, domain.RoleAdmin, domain.RoleDispatcher, domain.RoleDriver); err != nil {
		return p.writeException(ctx, out, method, seqID, mapError(err))
	}
	v, err := p.svc.GetVehicle(ctx, vehicleID)
	if err != nil {
		return p.writeException(ctx, out, method, seqID, mapError(err))
	}
	return p.writeReply(ctx, out, method, seqID, func(out thrift.TProtocol) error {
		return writeVehicle(ctx, out, v)
	})
}

func (p *Processor) handleUpdateLocation(ctx context.Context, seqID int32, in, out thrift.TProtocol) (bool, thrift.TException) {
	const method = "UpdateLocation"
	var (
		token string
		cmd   service.LocationCommand
	)
	err := readRequest(ctx, in, func(id int16, _ thrift.TType) (handled bool, err error) {
		switch id {
		case 1:
			token, err = in.ReadString(ctx)
		case 2:
			cmd.VehicleRef, err = in.ReadString(ctx)
		case 3:
			cmd.Lat, err = in.ReadDouble(ctx)
		case 4:
			cmd.Lng, err = in.ReadDouble(ctx)
		case 5:
			cmd.AccuracyMeters, err = in.ReadDouble(ctx)
		case 6:
			cmd.SpeedKmh, err = in.ReadDouble(ctx)
		case 7:
			cmd.BearingDegrees, err = in.ReadDouble(ctx)
		case 8:
			var ms int64
			ms, err = in.ReadI64(ctx)
			if ms > 0 {
				cmd.Timestamp = time.UnixMilli(ms).UTC()
			}
		default:
			return false, nil
		}
		return true, err
	})
	if err != nil {
		return p.protocolError(ctx, out, method, seqID, err)
	}
	claims, err := p.authorize(token, domain.RoleAdmin, domain.RoleDispatcher, domain.RoleDriver)
	if err != nil {
		return p.writeException(ctx, out, method, seqID, mapError(err))
	}
	cmd.Source = "thrift:" + claims.Subject
	outcome, err := p.svc.UpdateLocation(ctx, cmd)
	if err != nil {
		return p.writeException(ctx, out, method, seqID, mapError(err))
	}
	return p.writeReply(ctx, out, method, seqID, func(out thrift.TProtocol) error {
		return writeLocationOutcome(ctx, out, outcome)
	})
}

func (p *Processor) handleChangeStatus(ctx context.Context, seqID int32, in, out thrift.TProtocol) (bool, thrift.TException) {
	const method = "ChangeStatus"
	var token, vehicleID, status, reason string
	err := readRequest(ctx, in, func(id int16, _ thrift.TType) (handled bool, err error) {
		switch id {
		case 1:
			token, err = in.ReadString(ctx)
		case 2:
			vehicleID, err = in.ReadString(ctx)
		case 3:
			status, err = in.ReadString(ctx)
		case 4:
			reason, err = in.ReadString(ctx)
		default:
			return false, nil
		}
		return true, err
	})
	if err != nil {
		return p.protocolError(ctx, out, method, seqID, err)
	}
	claims, err := p.authorize(token, domain.RoleAdmin, domain.RoleDispatcher)
	if err != nil {
		return p.writeException(ctx, out, method, seqID, mapError(err))
	}
	v, err := p.svc.ChangeStatus(ctx, service.StatusCommand{
		VehicleID: vehicleID,
		Status:    domain.VehicleStatus(strings.ToUpper(strings.TrimSpace(status))),
		Reason:    reason,
		ChangedBy: claims.Subject,
	})
	if err != nil {
		return p.writeException(ctx, out, method, seqID, mapError(err))
	}
	return p.writeReply(ctx, out, method, seqID, func(out thrift.TProtocol) error {
		return writeVehicle(ctx, out, v)
	})
}

func (p *Processor) handleRunIngestion(ctx context.Context, seqID int32, in, out thrift.TProtocol) (bool, thrift.TException) {
	const method = "RunIngestion"
	var (
		token     string
		providers []string
	)
	err := readRequest(ctx, in, func(id int16, ft thrift.TType) (handled bool, err error) {
		switch {
		case id == 1:
			token, err = in.ReadString(ctx)
		case id == 2 && ft == thrift.LIST:
			providers, err = readStringList(ctx, in)
		default:
			return false, nil
		}
		return true, err
	})
	if err != nil {
		return p.protocolError(ctx, out, method, seqID, err)
	}
	if _, err := p.authorize(token, domain.RoleAdmin, domain.RoleDispatcher); err != nil {
		return p.writeException(ctx, out, method, seqID, mapError(err))
	}
	if p.ingest == nil {
		return p.writeException(ctx, out, method, seqID, thrift.NewTApplicationException(thrift.INTERNAL_ERROR, "ingestion is disabled"))
	}
	res := p.ingest.Run(ctx, providers)
	if res.NoProviders {
		return p.writeException(ctx, out, method, seqID,
			thrift.NewTApplicationException(thrift.PROTOCOL_ERROR, domain.CodeNoProviders+": no matching providers"))
	}
	return p.writeReply(ctx, out, method, seqID, func(out thrift.TProtocol) error {
		return writeIngestionSummary(ctx, out, res)
	})
}

func (p *Processor) authorize(token string, roles ...string) (*auth.Claims, error) {
	return p.auth.Authorize("Bearer "+token, roles...)
}

func (p *Processor) protocolError(ctx context.Context, out thrift.TProtocol, method string, seqID int32, err error) (bool, thrift.TException) {
	return p.writeException(ctx, out, method, seqID, thrift.NewTApplicationException(thrift.PROTOCOL_ERROR, err.Error()))
}

func (p *Processor) writeReply(ctx context.Context, out thrift.TProtocol, method string, seqID int32, writeSuccess func(out thrift.TProtocol) error) (bool, thrift.TException) {
	steps := []func() error{
		func() error { return out.WriteMessageBegin(ctx, method, thrift.REPLY, seqID) },
		func() error { return out.WriteStructBegin(ctx, method+"_result") },
		func() error { return out.WriteFieldBegin(ctx, "success", thrift.STRUCT, 0) },
		func() error { return writeSuccess(out) },
		func() error { return out.WriteFieldEnd(ctx) },
		func() error { return out.WriteFieldStop(ctx) },
		func() error { return out.WriteStructEnd(ctx) },
		func() error { return out.WriteMessageEnd(ctx) },
		func() error { return out.Flush(ctx) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return false, thrift.NewTApplicationException(thrift.PROTOCOL_ERROR, err.Error())
		}
	}
	return true, nil
}

func (p *Processor) writeException(ctx context.Context, out thrift.TProtocol, method string, seqID int32, appErr thrift.TApplicationException) (bool, thrift.TException) {
	_ = out.WriteMessageBegin(ctx, method, thrift.EXCEPTION, seqID)
	_ = appErr.Write(ctx, out)
	_ = out.WriteMessageEnd(ctx)
	_ = out.Flush(ctx)
	return false, appErr
}

// mapError keeps the stable domain code at the front of the exception message.
func mapError(err error) thrift.TApplicationException {
	var de *domain.Error
	switch {
	case errors.As(err, &de):
		return thrift.NewTApplicationException(thrift.PROTOCOL_ERROR, de.Code+": "+de.Message)
	case errors.Is(err, domain.ErrUnauthorized):
		return thrift.NewTApplicationException(thrift.PROTOCOL_ERROR, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		return thrift.NewTApplicationException(thrift.PROTOCOL_ERROR, "forbidden")
	default:
		return thrift.NewTApplicationException(thrift.INTERNAL_ERROR, "internal error")
	}
}
