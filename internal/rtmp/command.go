package rtmp

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/yutopp/go-amf0"
)

var ErrMalformedCommand = errors.New("malformed rtmp command")

// Command is a decoded AMF0 command message: name, transaction ID, the command
// object (nil when the peer sent null) and any further arguments.
type Command struct {
	Name          string
	TransactionID float64
	Object        map[string]interface{}
	Args          []interface{}
}

// ConnectCommand is the command object of a NetConnection connect.
type ConnectCommand struct {
	App            string  `mapstructure:"app"`
	Type           string  `mapstructure:"type"`
	FlashVer       string  `mapstructure:"flashVer"`
	TCURL          string  `mapstructure:"tcUrl"`
	SWFURL         string  `mapstructure:"swfUrl"`
	PageURL        string  `mapstructure:"pageUrl"`
	Fpad           bool    `mapstructure:"fpad"`
	Capabilities   float64 `mapstructure:"capabilities"`
	AudioCodecs    float64 `mapstructure:"audioCodecs"`
	VideoCodecs    float64 `mapstructure:"videoCodecs"`
	VideoFunction  float64 `mapstructure:"videoFunction"`
	ObjectEncoding float64 `mapstructure:"objectEncoding"`
}

// DecodeCommand parses the payload of a type 20 message.
func DecodeCommand(payload []byte) (*Command, error) {
	r := bytes.NewReader(payload)
	dec := amf0.NewDecoder(r)

	var cmd Command
	if err := dec.Decode(&cmd.Name); err != nil {
		return nil, fmt.Errorf("%w: command name: %v", ErrMalformedCommand, err)
	}
	if r.Len() == 0 {
		return &cmd, nil
	}
	if err := dec.Decode(&cmd.TransactionID); err != nil {
		return nil, fmt.Errorf("%w: transaction id of %s: %v", ErrMalformedCommand, cmd.Name, err)
	}
	if r.Len() == 0 {
		return &cmd, nil
	}

	var object interface{}
	if err := dec.Decode(&object); err != nil {
		return nil, fmt.Errorf("%w: command object of %s: %v", ErrMalformedCommand, cmd.Name, err)
	}
	if object != nil {
		// Objects and ECMA arrays both decode to string-keyed maps, but not
		// necessarily of the same named type.
		if err := mapstructure.Decode(object, &cmd.Object); err != nil {
			return nil, fmt.Errorf("%w: command object of %s is a %T", ErrMalformedCommand, cmd.Name, object)
		}
	}

	for r.Len() > 0 {
		var arg interface{}
		if err := dec.Decode(&arg); err != nil {
			return nil, fmt.Errorf("%w: argument %d of %s: %v", ErrMalformedCommand, len(cmd.Args), cmd.Name, err)
		}
		cmd.Args = append(cmd.Args, arg)
	}
	return &cmd, nil
}

// Connect decodes the command object of a connect command.
func (c *Command) Connect() (*ConnectCommand, error) {
	if c.Name != "connect" {
		return nil, fmt.Errorf("%w: %s is not a connect command", ErrMalformedCommand, c.Name)
	}
	if c.Object == nil {
		return nil, fmt.Errorf("%w: connect without command object", ErrMalformedCommand)
	}

	var cc ConnectCommand
	if err := mapstructure.Decode(c.Object, &cc); err != nil {
		return nil, fmt.Errorf("%w: connect object: %v", ErrMalformedCommand, err)
	}
	return &cc, nil
}

// StreamName returns the first string argument, which is where publish, play and
// releaseStream carry the stream name.
func (c *Command) StreamName() (string, bool) {
	for _, arg := range c.Args {
		if s, ok := arg.(string); ok {
			return s, true
		}
	}
	return "", false
}
