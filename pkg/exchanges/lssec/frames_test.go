package lssec

import (
	"testing"
	"time"

	"equity-core/pkg/exchanges/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTickAcceptsNumericFields(t *testing.T) {
	f, err := decodeFrame([]byte(`{"header":{"tr_cd":"K3_"},"body":{"shcode":"091990","price":5120,"cvolume":3}}`))
	require.NoError(t, err)
	require.False(t, f.isAck())

	tick, err := parseTick(f, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "091990", tick.Ticker)
	assert.Equal(t, "5120", tick.Price)
	assert.Equal(t, "3", tick.Volume)
}

func TestParseTickRejectsBadPrice(t *testing.T) {
	f, err := decodeFrame([]byte(`{"header":{},"body":{"shcode":"005930","price":"abc"}}`))
	require.NoError(t, err)
	_, err = parseTick(f, time.Now())
	assert.True(t, common.IsProtocol(err))
}

func TestAckFrames(t *testing.T) {
	for _, raw := range []string{
		`{"header":{"rsp_cd":"00000"}}`,
		`{"header":{"rsp_cd":"00000"},"body":null}`,
	} {
		f, err := decodeFrame([]byte(raw))
		require.NoError(t, err)
		assert.True(t, f.isAck(), raw)
	}
}

func TestAckRejections(t *testing.T) {
	cases := []struct {
		raw      string
		accepted bool
		auth     bool
	}{
		{`{"header":{"rsp_cd":"00000"},"body":null}`, true, false},
		{`{"header":{},"body":null}`, true, false},
		{`{"header":{"rsp_cd":"IGW00121"},"body":null}`, false, true},
		{`{"header":{"rsp_cd":"IGW00105"}}`, false, true},
		{`{"header":{"rsp_cd":"IGW40011"},"body":null}`, false, false},
	}
	for _, tc := range cases {
		f, err := decodeFrame([]byte(tc.raw))
		require.NoError(t, err)
		require.True(t, f.isAck(), tc.raw)
		assert.Equal(t, tc.accepted, f.accepted(), tc.raw)
		assert.Equal(t, tc.auth, f.authRejected(), tc.raw)
	}
}

func TestOrderEventKinds(t *testing.T) {
	kind, ok := orderEventKind("SC4")
	assert.True(t, ok)
	assert.Equal(t, common.OrderEventDenied, kind)

	_, ok = orderEventKind("SC5")
	assert.False(t, ok)

	f, err := decodeFrame([]byte(`{"header":{"tr_cd":"SC0"},"body":{"ordno":"0"}}`))
	require.NoError(t, err)
	_, err = parseOrderEvent(common.OrderEventWait, f, time.Now())
	assert.True(t, common.IsProtocol(err))
}

func TestOrderNumbersCanonical(t *testing.T) {
	f, err := decodeFrame([]byte(`{"header":{"tr_cd":"SC1"},"body":{"ordno":"0000012345","execqty":"1"}}`))
	require.NoError(t, err)
	ev, err := parseOrderEvent(common.OrderEventSuccess, f, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "12345", ev.ID)

	f, err = decodeFrame([]byte(`{"header":{"tr_cd":"SC1"},"body":{"ordno":12345}}`))
	require.NoError(t, err)
	same, err := parseOrderEvent(common.OrderEventSuccess, f, time.Now())
	require.NoError(t, err)
	assert.Equal(t, ev.ID, same.ID)

	for _, bad := range []string{"", "0", "000", "-5", "12a"} {
		_, ok := canonicalOrderNo(bad)
		assert.False(t, ok, bad)
	}
}

func TestBackoffBounded(t *testing.T) {
	b := Backoff{Min: 10 * time.Millisecond, Max: 40 * time.Millisecond, Factor: 2}
	assert.Equal(t, 10*time.Millisecond, b.Next(1))
	assert.Equal(t, 20*time.Millisecond, b.Next(2))
	assert.Equal(t, 40*time.Millisecond, b.Next(5))
}
