package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	published  []*nats.Msg
	publishErr error
	flushErr   error
	flushes    []time.Duration
	drained    bool
}

func (c *fakeConn) PublishMsg(msg *nats.Msg) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeConn) FlushTimeout(d time.Duration) error {
	c.flushes = append(c.flushes, d)
	return c.flushErr
}

func (c *fakeConn) Drain() error {
	c.drained = true
	return nil
}

func TestPublishSetsSubjectAndMessageID(t *testing.T) {
	t.Parallel()

	fc := &fakeConn{}
	pub := newPublisher(fc, "harvester.runs")

	id, err := pub.Publish(context.Background(), "", map[string]int{"records": 2})
	require.NoError(t, err)
	require.Len(t, fc.published, 1)

	msg := fc.published[0]
	assert.Equal(t, "harvester.runs", msg.Subject)
	assert.JSONEq(t, `{"records":2}`, string(msg.Data))
	assert.Equal(t, id, msg.Header.Get(nats.MsgIdHdr))
	assert.Equal(t, []time.Duration{nats.DefaultTimeout}, fc.flushes)

	_, err = pub.Publish(context.Background(), "harvester.loads", "ok")
	require.NoError(t, err)
	assert.Equal(t, "harvester.loads", fc.published[1].Subject)

	require.NoError(t, pub.Close())
	assert.True(t, fc.drained)
}

func TestPublishFlushHonorsDeadline(t *testing.T) {
	t.Parallel()

	fc := &fakeConn{}
	pub := newPublisher(fc, "s")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := pub.Publish(ctx, "", "x")
	require.NoError(t, err)
	require.Len(t, fc.flushes, 1)
	assert.LessOrEqual(t, fc.flushes[0], 200*time.Millisecond)
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	_, err := newPublisher(&fakeConn{}, "").Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "subject is required")

	_, err = newPublisher(&fakeConn{publishErr: nats.ErrConnectionClosed}, "s").Publish(context.Background(), "", "x")
	require.ErrorIs(t, err, nats.ErrConnectionClosed)

	_, err = newPublisher(&fakeConn{flushErr: errors.New("timeout")}, "s").Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "flush s")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fc := &fakeConn{}
	_, err = newPublisher(fc, "s").Publish(ctx, "", "x")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fc.published)
}

func TestHeaderCarrier(t *testing.T) {
	t.Parallel()

	msg := &nats.Msg{}
	carrier := (*headerCarrier)(msg)
	assert.Equal(t, "", carrier.Get("traceparent"))
	assert.Nil(t, carrier.Keys())

	carrier.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", carrier.Get("traceparent"))
	assert.Len(t, carrier.Keys(), 1)
}
