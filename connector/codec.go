// connector/codec.go
package connector

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame 线上帧：事件名 + JSON 负载
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Conn interface {
	Send(event string, data interface{}) error
	ReadFrame() (*Frame, error)
	Close() error
	RemoteAddr() net.Addr
	SetReadDeadline(t time.Time) error
}

// EventConn gorilla 连接上的 JSON 事件编解码，写入串行化
type EventConn struct {
	conn      *websocket.Conn
	sendMutex sync.Mutex
}

func NewEventConn(conn *websocket.Conn) *EventConn {
	return &EventConn{conn: conn}
}

func (c *EventConn) Send(event string, data interface{}) error {
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	frame := struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data,omitempty"`
	}{Event: event, Data: data}

	return c.conn.WriteJSON(&frame)
}

func (c *EventConn) ReadFrame() (*Frame, error) {
	var frame Frame
	if err := c.conn.ReadJSON(&frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

func (c *EventConn) Close() error {
	return c.conn.Close()
}

func (c *EventConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *EventConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}
