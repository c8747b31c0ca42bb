package grpcstore

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/feedsync/storage"
)

var codeForErr = []struct {
	err  error
	code codes.Code
}{
	{storage.ErrNotFound, codes.NotFound},
	{storage.ErrInvalidHash, codes.InvalidArgument},
	{storage.ErrHashMismatch, codes.DataLoss},
	{storage.ErrImmutable, codes.AlreadyExists},
	{storage.ErrInvalidSignature, codes.PermissionDenied},
	{storage.ErrStaleUpdate, codes.FailedPrecondition},
}

// mapErr converts a storage error into a gRPC status on the server side.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	for _, m := range codeForErr {
		if errors.Is(err, m.err) {
			return status.Error(m.code, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

// mapRPC converts a gRPC status back into the storage sentinel on the client side.
func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, m := range codeForErr {
		if st.Code() == m.code {
			if st.Message() == m.err.Error() {
				return m.err
			}
			return &remoteError{sentinel: m.err, msg: st.Message()}
		}
	}
	return err
}

// remoteError keeps the server's message while matching the storage sentinel.
type remoteError struct {
	sentinel error
	msg      string
}

func (e *remoteError) Error() string { return "grpcstore: remote: " + e.msg }

func (e *remoteError) Unwrap() error { return e.sentinel }
