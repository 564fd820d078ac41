package downstream

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"mapdispatch/internal/result"
)

// classifyStatus maps an engine response status. Only 200 and 500 have a
// defined meaning; every other status is UNDEFINED_ERROR.
func classifyStatus(code int) result.Result {
	switch code {
	case http.StatusOK:
		return result.Succeed
	case http.StatusInternalServerError:
		return result.EngineInternalError
	default:
		return result.UndefinedError
	}
}

func classifyError(err error) result.Result {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return result.Timeout
	case errors.Is(err, context.Canceled):
		return result.UndefinedError
	case isConnError(err):
		return result.EngineConnectionError
	default:
		return result.UndefinedError
	}
}

func isConnError(err error) bool {
	var (
		opErr  *net.OpError
		dnsErr *net.DNSError
	)
	return errors.As(err, &opErr) ||
		errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
