package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Conn is the default Gateway implementation: a single TCP connection to the
// trading workstation's API bridge. Request frames are JSON lines going out,
// event frames are JSON lines coming in; the bridge guarantees that events of
// one request arrive in emission order.
type Conn struct {
	logger   *zap.SugaredLogger
	host     string
	port     int
	clientID int
	events   *EventManager

	mu     sync.Mutex // guards conn and writer
	conn   net.Conn
	writer *bufio.Writer

	closeOnce sync.Once
}

var _ Gateway = (*Conn)(nil)

func NewConn(logger *zap.SugaredLogger, host string, port, clientID int) *Conn {
	if host == "" {
		host = "127.0.0.1"
	}
	return &Conn{
		logger:   logger,
		host:     host,
		port:     port,
		clientID: clientID,
		events:   NewEventManager(),
	}
}

func (c *Conn) Events() Subscriber {
	return c.events
}

// frame is the wire envelope in both directions.
type frame struct {
	Cmd  string          `json:"cmd"`
	Time int64           `json:"t,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (c *Conn) Connect(ctx context.Context) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(c.host, strconv.Itoa(c.port)))
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.writer = bufio.NewWriter(conn)
	c.mu.Unlock()

	go c.readLoop(conn)

	return c.send("startApi", map[string]any{"clientId": c.clientID})
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

func (c *Conn) send(cmd string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var f = frame{Cmd: cmd, Time: time.Now().UnixMicro(), Data: b}
	line, err := json.Marshal(f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writer == nil {
		return fmt.Errorf("gateway not connected")
	}
	if _, err := c.writer.Write(line); err != nil {
		return err
	}
	if _, err := c.writer.Write([]byte("\r\n")); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *Conn) readLoop(conn net.Conn) {
	var reader = bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			c.logger.Debugw("gateway read loop ended", "error", err)
			c.events.Publish(Disconnected{})
			return
		}
		var f frame
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			c.logger.Warnw("bad gateway frame", "error", err)
			continue
		}
		ev, err := decodeEvent(f)
		if err != nil {
			c.logger.Warnw("bad gateway event", "cmd", f.Cmd, "error", err)
			continue
		}
		if ev != nil {
			c.events.Publish(ev)
		}
	}
}

func decodeEvent(f frame) (any, error) {
	switch f.Cmd {
	case "nextValidId":
		var d struct {
			OrderID int64 `json:"orderId"`
		}
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, err
		}
		return NextValidID{ID: d.OrderID}, nil

	case "managedAccounts":
		var d struct {
			Accounts string `json:"accounts"`
		}
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, err
		}
		var ids []string
		for _, id := range strings.Split(d.Accounts, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		return ManagedAccounts{IDs: ids}, nil

	case "error":
		var d struct {
			ID      *int64 `json:"id"`
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, err
		}
		var reqID = NoReqID
		if d.ID != nil && *d.ID >= 0 {
			reqID = *d.ID
		}
		return Notice{ReqID: reqID, Code: d.Code, Message: d.Message}, nil

	case "tickPrice":
		var d struct {
			ID    int64   `json:"id"`
			Field int     `json:"field"`
			Price float64 `json:"price"`
		}
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, err
		}
		return TickPrice{ReqID: d.ID, Field: TickField(d.Field), Price: d.Price}, nil

	case "historicalData":
		var d struct {
			ID int64 `json:"id"`
			Bar
		}
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, err
		}
		return HistoricalBar{ReqID: d.ID, Bar: d.Bar}, nil

	case "historicalDataEnd":
		var d struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, err
		}
		return HistoricalDone{ReqID: d.ID}, nil

	case "accountSummary":
		var d struct {
			ID       int64  `json:"id"`
			Account  string `json:"account"`
			Tag      string `json:"tag"`
			Value    string `json:"value"`
			Currency string `json:"currency"`
		}
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, err
		}
		return AccountSummaryTag{ReqID: d.ID, Account: d.Account, Tag: d.Tag, Value: d.Value, Currency: d.Currency}, nil

	case "accountSummaryEnd":
		var d struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, err
		}
		return AccountSummaryEnd{ReqID: d.ID}, nil

	case "position":
		var d struct {
			Account  string  `json:"account"`
			Contract Contract `json:"contract"`
			Position float64 `json:"position"`
			AvgCost  float64 `json:"avgCost"`
		}
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, err
		}
		return PositionUpdate{Account: d.Account, Contract: d.Contract, Quantity: d.Position, AvgCost: d.AvgCost}, nil

	case "positionEnd":
		return PositionEnd{}, nil

	case "orderStatus":
		var d struct {
			ID           int64   `json:"id"`
			Status       string  `json:"status"`
			Filled       float64 `json:"filled"`
			Remaining    float64 `json:"remaining"`
			AvgFillPrice float64 `json:"avgFillPrice"`
		}
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, err
		}
		return OrderStatus{OrderID: d.ID, Status: d.Status, Filled: d.Filled, Remaining: d.Remaining, AvgFillPrice: d.AvgFillPrice}, nil
	}
	// Unknown frames are skipped so a newer bridge does not break us.
	return nil, nil
}

func (c *Conn) RequestIDs() error {
	return c.send("reqIds", map[string]any{"numIds": 1})
}

func (c *Conn) RequestManagedAccounts() error {
	return c.send("reqManagedAccts", map[string]any{})
}

func (c *Conn) RequestMarketDataType(mode MarketDataMode) error {
	return c.send("reqMarketDataType", map[string]any{"marketDataType": int(mode)})
}

func (c *Conn) RequestMarketData(reqID int64, contract Contract) error {
	return c.send("reqMktData", map[string]any{
		"id":       reqID,
		"contract": contract,
		"snapshot": true,
	})
}

func (c *Conn) CancelMarketData(reqID int64) error {
	return c.send("cancelMktData", map[string]any{"id": reqID})
}

func (c *Conn) RequestHistoricalData(reqID int64, contract Contract, duration, barSize string) error {
	return c.send("reqHistoricalData", map[string]any{
		"id":         reqID,
		"contract":   contract,
		"duration":   duration,
		"barSize":    barSize,
		"whatToShow": "TRADES",
		"useRTH":     1,
		"formatDate": 1,
	})
}

func (c *Conn) RequestAccountSummary(reqID int64, group string, tags []string) error {
	return c.send("reqAccountSummary", map[string]any{
		"id":    reqID,
		"group": group,
		"tags":  strings.Join(tags, ","),
	})
}

func (c *Conn) CancelAccountSummary(reqID int64) error {
	return c.send("cancelAccountSummary", map[string]any{"id": reqID})
}

func (c *Conn) RequestPositions() error {
	return c.send("reqPositions", map[string]any{})
}

func (c *Conn) CancelPositions() error {
	return c.send("cancelPositions", map[string]any{})
}

func (c *Conn) PlaceOrder(orderID int64, contract Contract, order OrderSpec) error {
	return c.send("placeOrder", map[string]any{
		"id":       orderID,
		"contract": contract,
		"order":    order,
	})
}
