package ws

import (
	"go.uber.org/zap"

	"github.com/tunematch/arena/internal/protocol"
)

// MessageHandler handles one parsed client message. msg is the concrete
// struct returned by protocol.ParseClientMessage, e.g. protocol.PickMsg.
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming messages to handlers by type. Pings are
// answered internally; malformed or unsupported messages get an error frame.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	log      *zap.Logger
}

// NewMessageDispatcher creates an empty dispatcher.
func NewMessageDispatcher(log *zap.Logger) *MessageDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		log:      log.Named("dispatch"),
	}
}

// Register associates a handler with a message type, replacing any previous
// handler for that type.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the Server's message callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.log.Debug("parse error", zap.String("session", conn.ID), zap.Error(err))
		d.send(conn, protocol.NewError(protocol.CodeInvalidMessage, "invalid message format"))
		return
	}

	if msgType == protocol.TypePing {
		conn.Touch()
		d.send(conn, protocol.MustServerMessage(protocol.TypePong, protocol.PongMsg{}))
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.log.Debug("unsupported message type", zap.String("type", msgType), zap.String("session", conn.ID))
		d.send(conn, protocol.NewError(protocol.CodeInvalidMessage, "unsupported message type"))
		return
	}

	handler(conn, msg)
}

func (d *MessageDispatcher) send(conn *Connection, data []byte) {
	if err := conn.WriteMessage(data); err != nil {
		d.log.Debug("write failed", zap.String("session", conn.ID), zap.Error(err))
	}
}
