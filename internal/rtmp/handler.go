package rtmp

import (
	"github.com/sirupsen/logrus"
)

// MessageHandler receives the decoded traffic of RTMP sessions. Methods run on
// the reactor and must not block.
type MessageHandler interface {
	HandleCommand(s *Session, cmd *Command)
	HandleMessage(s *Session, msg *Message)
}

// LogHandler only logs what it's given.
type LogHandler struct {
	Logger *logrus.Logger
}

func (h LogHandler) HandleCommand(s *Session, cmd *Command) {
	h.Logger.WithFields(logrus.Fields{
		"client": s.RemoteEndpoint(),
		"app":    s.App(),
	}).Debugf("command %s (transaction %v, %d args)", cmd.Name, cmd.TransactionID, len(cmd.Args))
}

func (h LogHandler) HandleMessage(s *Session, msg *Message) {
	h.Logger.WithField("client", s.RemoteEndpoint()).
		Tracef("message type %d on chunk stream %d: %d bytes at %d", msg.TypeID, msg.ChunkStreamID, len(msg.Payload), msg.Timestamp)
}
