package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	krishierrors "krishi/internal/errors"
)

// ResponseTooLargeError means a body went past the read limit.
type ResponseTooLargeError struct {
	Limit int64
}

func (e ResponseTooLargeError) Error() string {
	return fmt.Sprintf("body larger than %d bytes", e.Limit)
}

func IsResponseTooLarge(err error) bool {
	var tooLarge ResponseTooLargeError
	return errors.As(err, &tooLarge)
}

// ReadAllWithLimit reads at most limit bytes of r. A limit <= 0 reads
// everything.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ResponseTooLargeError{Limit: limit}
	}
	return data, nil
}

// ReadResponse drains and closes resp.Body within DefaultResponseLimit.
func ReadResponse(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()
	return ReadAllWithLimit(resp.Body, DefaultResponseLimit)
}

func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}

// Do sends req to a collaborator and returns the body of a 2xx reply.
// Transport failures, unreadable bodies and other statuses come back as a
// *errors.ServiceError for service/op. When the request context is done its
// error is returned unwrapped.
func Do(client *http.Client, req *http.Request, service, op string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &krishierrors.ServiceError{Service: service, Op: op, Err: err}
	}
	data, err := ReadResponse(resp)
	if err != nil {
		return nil, &krishierrors.ServiceError{Service: service, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if !IsSuccess(resp.StatusCode) {
		return nil, &krishierrors.ServiceError{Service: service, Op: op, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
