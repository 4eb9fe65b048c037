package api

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/dtn-simulator/core"
	"github.com/signalsfoundry/dtn-simulator/internal/cgr"
	"github.com/signalsfoundry/dtn-simulator/internal/sim"
	"github.com/signalsfoundry/dtn-simulator/kb"
)

var (
	// ErrNotFound is returned when a requested tick or node is not recorded.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest is returned for requests that cannot be decoded.
	ErrInvalidRequest = errors.New("invalid request")
)

// ToStatusError maps simulator errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, kb.ErrUnknownNode),
		errors.Is(err, cgr.ErrContactNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, sim.ErrInvalidScenario),
		errors.Is(err, core.ErrInvalidContact),
		errors.Is(err, kb.ErrInvalidNode):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, kb.ErrNodeExists):
		return status.Error(codes.AlreadyExists, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
