// Command fleetctl drives the gRPC API from a terminal.
//
//	fleetctl token <name> <role>
//	fleetctl get <vehicle-id>
//	fleetctl list [status]
//	fleetctl locate <vehicle-id|plate> <lat> <lng> [accuracy]
//	fleetctl status <vehicle-id> <status> <reason>
//	fleetctl ingest [provider...]
//	fleetctl health
//
// Every command except token reads the bearer token from -token or FLEET_TOKEN.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"transit-tracker/internal/ingest"
	"transit-tracker/internal/transport"
	"transit-tracker/internal/transport/grpcapi"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9090", "gRPC server address")
	token := flag.String("token", os.Getenv("FLEET_TOKEN"), "bearer token")
	timeout := flag.Duration("timeout", 10*time.Second, "per call timeout")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	conn, err := grpc.Dial(*addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(grpcapi.CodecName)),
	)
	if err != nil {
		fail(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if *token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+*token)
	}

	out, err := dispatch(ctx, conn, args[0], args[1:])
	if err != nil {
		fail(err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

func dispatch(ctx context.Context, conn *grpc.ClientConn, cmd string, args []string) (any, error) {
	switch cmd {
	case "token":
		if len(args) != 2 {
			return nil, usage("token <name> <role>")
		}
		var resp grpcapi.TokenResponse
		return &resp, conn.Invoke(ctx, "/transit.AuthService/IssueToken", &grpcapi.TokenRequest{Name: args[0], Role: args[1]}, &resp)

	case "get":
		if len(args) != 1 {
			return nil, usage("get <vehicle-id>")
		}
		var resp transport.VehicleResponse
		return &resp, conn.Invoke(ctx, "/transit.FleetService/GetVehicle", &grpcapi.VehicleRequest{VehicleID: args[0]}, &resp)

	case "list":
		req := &grpcapi.ListVehiclesRequest{}
		if len(args) > 0 {
			req.Status = args[0]
		}
		var resp grpcapi.ListVehiclesResponse
		return &resp, conn.Invoke(ctx, "/transit.FleetService/ListVehicles", req, &resp)

	case "locate":
		if len(args) < 3 {
			return nil, usage("locate <vehicle-id|plate> <lat> <lng> [accuracy]")
		}
		nums, err := parseFloats(args[1:])
		if err != nil {
			return nil, err
		}
		req := &grpcapi.LocationRequest{VehicleRef: args[0], Lat: nums[0], Lng: nums[1]}
		if len(nums) > 2 {
			req.AccuracyMeters = nums[2]
		}
		var resp transport.LocationOutcomeResponse
		return &resp, conn.Invoke(ctx, "/transit.FleetService/UpdateLocation", req, &resp)

	case "status":
		if len(args) != 3 {
			return nil, usage("status <vehicle-id> <status> <reason>")
		}
		var resp transport.VehicleResponse
		req := &grpcapi.StatusRequest{VehicleID: args[0], Status: args[1], Reason: args[2]}
		return &resp, conn.Invoke(ctx, "/transit.FleetService/ChangeStatus", req, &resp)

	case "ingest":
		var resp ingest.IngestionResult
		return &resp, conn.Invoke(ctx, "/transit.IngestionService/Run", &grpcapi.RunIngestionRequest{Providers: args}, &resp)

	case "health":
		var resp grpcapi.ProviderHealthResponse
		return &resp, conn.Invoke(ctx, "/transit.IngestionService/ProviderHealth", &grpcapi.Empty{}, &resp)

	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
}

func parseFloats(raw []string) ([]float64, error) {
	out := make([]float64, 0, len(raw))
	for _, r := range raw {
		f, err := strconv.ParseFloat(r, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", r)
		}
		out = append(out, f)
	}
	return out, nil
}

func usage(s string) error {
	return fmt.Errorf("usage: fleetctl %s", s)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "fleetctl:", err)
	os.Exit(1)
}
