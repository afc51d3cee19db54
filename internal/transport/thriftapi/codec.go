package thriftapi

import (
	"context"

	"github.com/apache/thrift/lib/go/thrift"

	"transit-tracker/internal/domain"
	"transit-tracker/internal/ingest"
	"transit-tracker/internal/service"
)

// readRequest consumes `<Method>_args { 1: Request request }` and hands every field of the
// inner request struct to field. Unknown fields are skipped when field returns handled=false.
func readRequest(ctx context.Context, in thrift.TProtocol, field func(id int16, ft thrift.TType) (bool, error)) error {
	if _, err := in.ReadStructBegin(ctx); err != nil {
		return err
	}
	for {
		_, fieldType, fieldID, err := in.ReadFieldBegin(ctx)
		if err != nil {
			return err
		}
		if fieldType == thrift.STOP {
			break
		}
		if fieldID == 1 && fieldType == thrift.STRUCT {
			if err := readStruct(ctx, in, field); err != nil {
				return err
			}
		} else if err := in.Skip(ctx, fieldType); err != nil {
			return err
		}
		if err := in.ReadFieldEnd(ctx); err != nil {
			return err
		}
	}
	if err := in.ReadStructEnd(ctx); err != nil {
		return err
	}
	return in.ReadMessageEnd(ctx)
}

func readStruct(ctx context.Context, in thrift.TProtocol, field func(id int16, ft thrift.TType) (bool, error)) error {
	if _, err := in.ReadStructBegin(ctx); err != nil {
		return err
	}
	for {
		_, ft, fid, err := in.ReadFieldBegin(ctx)
		if err != nil {
			return err
		}
		if ft == thrift.STOP {
			break
		}
		handled, err := field(fid, ft)
		if err != nil {
			return err
		}
		if !handled {
			if err := in.Skip(ctx, ft); err != nil {
				return err
			}
		}
		if err := in.ReadFieldEnd(ctx); err != nil {
			return err
		}
	}
	return in.ReadStructEnd(ctx)
}

func readStringList(ctx context.Context, in thrift.TProtocol) ([]string, error) {
	_, size, err := in.ReadListBegin(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, size)
	for i := 0; i < size; i++ {
		s, err := in.ReadString(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, in.ReadListEnd(ctx)
}

// structWriter accumulates the first write error so field sequences read linearly.
type structWriter struct {
	ctx context.Context
	out thrift.TProtocol
	err error
}

func (w *structWriter) begin(name string) {
	if w.err == nil {
		w.err = w.out.WriteStructBegin(w.ctx, name)
	}
}

func (w *structWriter) field(name string, ft thrift.TType, id int16, write func() error) {
	if w.err != nil {
		return
	}
	if w.err = w.out.WriteFieldBegin(w.ctx, name, ft, id); w.err != nil {
		return
	}
	if w.err = write(); w.err != nil {
		return
	}
	w.err = w.out.WriteFieldEnd(w.ctx)
}

func (w *structWriter) str(name string, id int16, v string) {
	w.field(name, thrift.STRING, id, func() error { return w.out.WriteString(w.ctx, v) })
}

func (w *structWriter) f64(name string, id int16, v float64) {
	w.field(name, thrift.DOUBLE, id, func() error { return w.out.WriteDouble(w.ctx, v) })
}

func (w *structWriter) i64(name string, id int16, v int64) {
	w.field(name, thrift.I64, id, func() error { return w.out.WriteI64(w.ctx, v) })
}

func (w *structWriter) i32(name string, id int16, v int) {
	w.field(name, thrift.I32, id, func() error { return w.out.WriteI32(w.ctx, int32(v)) })
}

func (w *structWriter) boolean(name string, id int16, v bool) {
	w.field(name, thrift.BOOL, id, func() error { return w.out.WriteBool(w.ctx, v) })
}

func (w *structWriter) end() error {
	if w.err == nil {
		w.err = w.out.WriteFieldStop(w.ctx)
	}
	if w.err == nil {
		w.err = w.out.WriteStructEnd(w.ctx)
	}
	return w.err
}

func writeLocation(ctx context.Context, out thrift.TProtocol, c *domain.Coordinate) error {
	w := &structWriter{ctx: ctx, out: out}
	w.begin("Location")
	w.f64("lat", 1, c.Lat)
	w.f64("lng", 2, c.Lng)
	w.f64("accuracyMeters", 3, c.AccuracyMeters)
	return w.end()
}

func writeVehicle(ctx context.Context, out thrift.TProtocol, v *domain.Vehicle) error {
	snap := v.Snapshot()
	w := &structWriter{ctx: ctx, out: out}
	w.begin("Vehicle")
	w.str("id", 1, snap.ID.String())
	w.str("licensePlate", 2, snap.LicensePlate)
	w.str("status", 3, string(snap.Status))
	if snap.RouteID != nil {
		w.str("routeId", 4, string(*snap.RouteID))
	}
	if snap.CurrentLocation != nil {
		w.field("currentLocation", thrift.STRUCT, 5, func() error { return writeLocation(ctx, out, snap.CurrentLocation) })
	}
	w.f64("speedKmh", 6, snap.SpeedKmh)
	w.f64("bearingDegrees", 7, snap.BearingDegrees)
	w.i64("odometerMeters", 8, snap.OdometerMeters)
	w.i64("version", 9, snap.Version)
	w.i64("updatedAt", 10, snap.UpdatedAt.Unix())
	return w.end()
}

func writeLocationOutcome(ctx context.Context, out thrift.TProtocol, o *service.LocationOutcome) error {
	w := &structWriter{ctx: ctx, out: out}
	w.begin("LocationOutcome")
	w.str("vehicleId", 1, o.VehicleID.String())
	w.boolean("accepted", 2, o.Accepted)
	w.boolean("firstUpdate", 3, o.FirstUpdate)
	w.f64("distanceMeters", 4, o.DistanceMeters)
	w.i64("odometerMeters", 5, o.OdometerMeters)
	if o.Session != nil && o.Session.Code != "" {
		w.str("sessionRejection", 6, o.Session.Code)
	}
	return w.end()
}

func writeIngestionSummary(ctx context.Context, out thrift.TProtocol, r ingest.IngestionResult) error {
	w := &structWriter{ctx: ctx, out: out}
	w.begin("IngestionSummary")
	w.boolean("successful", 1, r.Successful)
	w.i32("providersRun", 2, r.ProvidersRun)
	w.i32("totalFetched", 3, r.TotalFetched)
	w.i32("totalSuccessful", 4, r.TotalSuccessful)
	w.i32("totalFailed", 5, r.TotalFailed)
	w.i32("totalFiltered", 6, r.TotalFiltered)
	w.i32("totalUnchanged", 7, r.TotalUnchanged)
	w.i64("durationMs", 8, r.Duration.Milliseconds())
	return w.end()
}

func writeTokenResponse(ctx context.Context, out thrift.TProtocol, token string, expiresAt int64) error {
	w := &structWriter{ctx: ctx, out: out}
	w.begin("TokenResponse")
	w.str("token", 1, token)
	w.i64("expiresAt", 2, expiresAt)
	return w.end()
}
