package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventManagerSubscribePublish(t *testing.T) {
	var em = NewEventManager()

	var got []any
	unsub := em.Subscribe(func(ev any) { got = append(got, ev) })

	em.Publish(NextValidID{ID: 7})
	em.Publish(PositionEnd{})
	require.Len(t, got, 2)
	assert.Equal(t, NextValidID{ID: 7}, got[0])

	unsub()
	em.Publish(Disconnected{})
	assert.Len(t, got, 2)
	assert.Equal(t, 0, em.Len())
}

func TestEventManagerUnsubscribeTwice(t *testing.T) {
	var em = NewEventManager()
	unsub := em.Subscribe(func(any) {})
	unsub()
	unsub() // must not panic or remove someone else
	assert.Equal(t, 0, em.Len())
}

func TestCorrelationID(t *testing.T) {
	var tests = []struct {
		name string
		ev   any
		id   int64
		ok   bool
	}{
		{name: "tick", ev: TickPrice{ReqID: 12, Field: TickLast, Price: 1}, id: 12, ok: true},
		{name: "bar", ev: HistoricalBar{ReqID: 3}, id: 3, ok: true},
		{name: "bar end", ev: HistoricalDone{ReqID: 3}, id: 3, ok: true},
		{name: "summary", ev: AccountSummaryTag{ReqID: 9}, id: 9, ok: true},
		{name: "summary end", ev: AccountSummaryEnd{ReqID: 9}, id: 9, ok: true},
		{name: "order status", ev: OrderStatus{OrderID: 101}, id: 101, ok: true},
		{name: "correlated notice", ev: Notice{ReqID: 5, Code: 200}, id: 5, ok: true},
		{name: "broadcast notice", ev: Notice{ReqID: NoReqID, Code: 2104}, ok: false},
		{name: "position", ev: PositionUpdate{}, ok: false},
		{name: "position end", ev: PositionEnd{}, ok: false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			id, ok := CorrelationID(test.ev)
			assert.Equal(t, test.ok, ok)
			if ok {
				assert.Equal(t, test.id, id)
			}
		})
	}
}
