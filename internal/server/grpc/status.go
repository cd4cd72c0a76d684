package grpcserver

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/and161185/basejwt/internal/errs"
)

// toStatus maps service errors onto gRPC status codes. Unknown errors are
// logged and reported as Internal without detail.
func toStatus(log *zap.Logger, err error) error {
	var verr *errs.ValidationError
	var lock *errs.LockedOutError
	switch {
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Error())
	case errors.As(err, &lock):
		st := status.New(codes.ResourceExhausted, "account "+lock.Error())
		if withRetry, derr := st.WithDetails(&errdetails.RetryInfo{RetryDelay: durationpb.New(lock.Remaining)}); derr == nil {
			st = withRetry
		}
		return st.Err()
	case errors.Is(err, errs.ErrLockedOut):
		return status.Error(codes.ResourceExhausted, "account locked")
	case errors.Is(err, errs.ErrReplayDetected):
		return status.Error(codes.Unauthenticated, "refresh token reuse detected, all sessions revoked")
	case errors.Is(err, errs.ErrExpired):
		return status.Error(codes.Unauthenticated, "token expired")
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, errs.ErrAlreadyUsed):
		return status.Error(codes.FailedPrecondition, "token already used")
	case errors.Is(err, errs.ErrInactive):
		return status.Error(codes.PermissionDenied, "account inactive")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		log.Error("internal error", zap.Error(err))
		return status.Error(codes.Internal, "internal")
	}
}
