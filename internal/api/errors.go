package api

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/modeltree/internal/format"
	"github.com/signalsfoundry/modeltree/internal/links"
	"github.com/signalsfoundry/modeltree/internal/structure"
	"github.com/signalsfoundry/modeltree/model"
)

var (
	// ErrInvalidRequest is returned for requests missing required fields.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNodeNotFound is returned when an address matches no node.
	ErrNodeNotFound = errors.New("node not found")
)

// ToStatusError maps structural engine errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrNodeNotFound),
		errors.Is(err, model.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, format.ErrInvalidFormat),
		errors.Is(err, model.ErrUnknownKind):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, structure.ErrPartialAdd),
		errors.Is(err, links.ErrUnresolvedLink):
		return status.Error(codes.Aborted, err.Error())

	case errors.Is(err, model.ErrReadOnly),
		errors.Is(err, model.ErrStructural):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, model.ErrNameExhausted):
		return status.Error(codes.ResourceExhausted, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
