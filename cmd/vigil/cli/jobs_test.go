package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInspector struct {
	info   *asynq.QueueInfo
	err    error
	closed bool
}

func (s *stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func (s *stubInspector) Close() error {
	s.closed = true
	return nil
}

type stubClient struct {
	ids    []int64
	closed bool
}

func (s *stubClient) EnqueueAuditSimulation(ctx context.Context, auditID int64) error {
	s.ids = append(s.ids, auditID)
	return nil
}

func (s *stubClient) Close() error {
	s.closed = true
	return errors.New("already closed")
}

func TestRunStats(t *testing.T) {
	c := &JobsCLI{
		client:    &stubClient{},
		inspector: &stubInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3, Retry: 1}},
	}
	var out bytes.Buffer
	require.NoError(t, c.Run(context.Background(), []string{"stats"}, &out))
	assert.Equal(t, "queue=default pending=3 active=0 scheduled=0 retry=1 archived=0\n", out.String())
}

func TestRunRequeue(t *testing.T) {
	client := &stubClient{}
	c := &JobsCLI{client: client, inspector: &stubInspector{}}

	var out bytes.Buffer
	require.NoError(t, c.Run(context.Background(), []string{"requeue", "12"}, &out))
	assert.Equal(t, []int64{12}, client.ids)
	assert.Contains(t, out.String(), "audit 12 queued")

	assert.Error(t, c.Run(context.Background(), []string{"requeue", "abc"}, &out))
	assert.Error(t, c.Run(context.Background(), []string{"requeue"}, &out))
	assert.Error(t, c.Run(context.Background(), []string{"purge"}, &out))
	assert.Error(t, c.Run(context.Background(), nil, &out))
}

func TestCloseReleasesBoth(t *testing.T) {
	client := &stubClient{}
	inspector := &stubInspector{}
	c := &JobsCLI{client: client, inspector: inspector}

	assert.Error(t, c.Close())
	assert.True(t, client.closed)
	assert.True(t, inspector.closed)
}
