package scanning

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/portsweep/internal/logging"
	"github.com/anstrom/portsweep/internal/metrics"
	"github.com/anstrom/portsweep/internal/scanning/mocks"
)

const lsofOutput = `COMMAND   PID USER   FD   TYPE DEVICE SIZE/OFF NODE NAME
nginx    1234 root    6u  IPv4  31337      0t0  TCP *:80 (LISTEN)
nginx    1235 www     6u  IPv4  31337      0t0  TCP *:80 (LISTEN)
`

func TestParseLsofCommand(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    string
		wantErr bool
	}{
		{"first data row wins", lsofOutput, "nginx", false},
		{"leading blank lines", "\n\nCOMMAND PID\nsshd 1 root\n", "sshd", false},
		{"header only", "COMMAND PID USER\n", "", true},
		{"empty output", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLsofCommand([]byte(tt.output))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLsofIdentifier(t *testing.T) {
	t.Run("runs lsof for the port with a deadline", func(t *testing.T) {
		id := NewLsofIdentifier(time.Second)
		id.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			assert.Equal(t, "lsof", name)
			assert.Equal(t, []string{"-nP", "-iTCP:8080", "-sTCP:LISTEN"}, args)
			return []byte(lsofOutput), nil
		}

		name, err := id.Identify(context.Background(), testHost, 8080)
		require.NoError(t, err)
		assert.Equal(t, "nginx", name)
	})

	t.Run("command failure is reported", func(t *testing.T) {
		id := NewLsofIdentifier(0)
		assert.Equal(t, defaultLookupTimeout, id.timeout)
		id.run = func(context.Context, string, ...string) ([]byte, error) {
			return nil, fmt.Errorf("exit status 1")
		}

		_, err := id.Identify(context.Background(), testHost, 22)
		assert.Error(t, err)
	})

	t.Run("missing binary is reported", func(t *testing.T) {
		id := NewLsofIdentifier(time.Second)
		id.path = "/nonexistent/lsof"

		_, err := id.Identify(context.Background(), testHost, 22)
		assert.Error(t, err)
	})
}

func TestServiceLabel(t *testing.T) {
	logger := logging.NewDiscard()

	tests := []struct {
		name    string
		service string
		err     error
		want    string
	}{
		{"identified", "postgres", nil, "postgres"},
		{"trimmed", "  redis\n", nil, "redis"},
		{"lookup error", "", fmt.Errorf("lsof: exit status 1"), ServiceUnknown},
		{"empty answer", "", nil, ServiceUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			id := mocks.NewMockServiceIdentifier(ctrl)
			id.EXPECT().Identify(gomock.Any(), testHost, uint16(5432)).Return(tt.service, tt.err)

			assert.Equal(t, tt.want, serviceLabel(context.Background(), id, testHost, 5432, logger, nil))
		})
	}

	t.Run("nil identifier", func(t *testing.T) {
		assert.Equal(t, ServiceUnknown, serviceLabel(context.Background(), nil, testHost, 1, logger, nil))
	})

	t.Run("noop identifier", func(t *testing.T) {
		assert.Equal(t, ServiceUnknown, serviceLabel(context.Background(), NoopIdentifier{}, testHost, 1, logger, nil))
	})

	t.Run("outcomes are counted", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		id := mocks.NewMockServiceIdentifier(ctrl)
		id.EXPECT().Identify(gomock.Any(), gomock.Any(), gomock.Any()).Return("sshd", nil)
		id.EXPECT().Identify(gomock.Any(), gomock.Any(), gomock.Any()).Return("", fmt.Errorf("boom"))

		m := metrics.NewPrometheusMetrics()
		serviceLabel(context.Background(), id, testHost, 22, logger, m)
		serviceLabel(context.Background(), id, testHost, 23, logger, m)

		count, err := testutil.GatherAndCount(m.GetRegistry(), "portsweep_service_lookups_total")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
}
