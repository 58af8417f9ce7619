package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewStatusErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		kind   FailureKind
	}{
		{http.StatusInternalServerError, Transient},
		{http.StatusBadGateway, Transient},
		{http.StatusServiceUnavailable, Transient},
		{http.StatusTooManyRequests, Transient},
		{http.StatusRequestTimeout, Transient},
		{http.StatusNotFound, Permanent},
		{http.StatusForbidden, Permanent},
		{http.StatusGone, Permanent},
	}
	for _, tc := range cases {
		err := NewStatusError("https://example.com", tc.status)
		require.Equal(t, tc.kind, err.Kind, "status %d", tc.status)
		require.Equal(t, tc.status, StatusOf(err))
	}
}

func TestClassifyFetchError(t *testing.T) {
	t.Parallel()

	require.Equal(t, Transient, ClassifyFetchError("u", context.DeadlineExceeded).Kind)
	require.Equal(t, Transient, ClassifyFetchError("u", fmt.Errorf("dial: %w", syscall.ECONNRESET)).Kind)
	require.Equal(t, Transient, ClassifyFetchError("u", &net.OpError{Op: "dial", Err: errors.New("refused")}).Kind)
	require.Equal(t, Permanent, ClassifyFetchError("u", &net.DNSError{Err: "no such host", IsNotFound: true}).Kind)
	require.Equal(t, Permanent, ClassifyFetchError("u", errors.New("x509: certificate signed by unknown authority")).Kind)

	wrapped := fmt.Errorf("outer: %w", NewStatusError("u", http.StatusNotFound))
	require.Equal(t, Permanent, ClassifyFetchError("u", wrapped).Kind)
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, Permanent, KindOf(fmt.Errorf("robots: %w", ErrSchedulerDenied)))
	require.Equal(t, Permanent, KindOf(fmt.Errorf("binary body: %w", ErrParse)))
	require.Equal(t, Transient, KindOf(NewStatusError("u", http.StatusBadGateway)))
	require.Equal(t, Transient, KindOf(errors.New("mystery")))
	require.Equal(t, "transient", Transient.String())
}
