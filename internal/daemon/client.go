package daemon

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/muffinbran/pitch-tendency-analyzer/internal/tendency"
)

// Client communicates with the pitchtend daemon over a Unix socket.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	mu      sync.Mutex
}

// Connect dials the daemon Unix socket.
func Connect(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, maxLine), maxLine)

	return &Client{conn: conn, scanner: scanner}, nil
}

// Close shuts down the connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// SendCommand sends a command and reads one response line.
func (c *Client) SendCommand(cmd Command) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(cmd)
	if err != nil {
		return Response{}, fmt.Errorf("marshal command: %w", err)
	}

	data = append(data, '\n')
	if _, err := c.conn.Write(data); err != nil {
		return Response{}, fmt.Errorf("write command: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Response{}, fmt.Errorf("read response: %w", err)
		}
		return Response{}, fmt.Errorf("connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("unmarshal response: %w", err)
	}

	return resp, nil
}

// ReadEvent reads the next NDJSON event line. Blocks until data arrives.
// After calling Subscribe, use this in a loop to receive events.
func (c *Client) ReadEvent() (Event, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Event{}, fmt.Errorf("read event: %w", err)
		}
		return Event{}, fmt.Errorf("connection closed")
	}

	var ev Event
	if err := json.Unmarshal(c.scanner.Bytes(), &ev); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}

	return ev, nil
}

// Submit sends a session to the daemon and returns the stored session id.
func (c *Client) Submit(p tendency.SessionPayload) (string, error) {
	resp, err := c.SendCommand(Command{Cmd: CmdSubmit, Session: &p})
	if err != nil {
		return "", err
	}
	if err := resp.Err(); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// Tendencies fetches the tendency summary. A nil instrumentID means every
// instrument.
func (c *Client) Tendencies(instrumentID *int64) ([]tendency.Summary, error) {
	resp, err := c.SendCommand(Command{Cmd: CmdTendencies, InstrumentID: instrumentID})
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	if resp.Tendencies == nil {
		return []tendency.Summary{}, nil
	}
	return resp.Tendencies, nil
}

// Instruments lists instruments that have stored sessions.
func (c *Client) Instruments() ([]tendency.Instrument, error) {
	resp, err := c.SendCommand(Command{Cmd: CmdInstruments})
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp.Instruments, nil
}

// Delete removes a stored session.
func (c *Client) Delete(sessionID string) error {
	resp, err := c.SendCommand(Command{Cmd: CmdDelete, SessionID: sessionID})
	if err != nil {
		return err
	}
	return resp.Err()
}

// RemoteError is a failure reported by the daemon.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// Is maps daemon error codes back onto the tendency error kinds.
func (e *RemoteError) Is(target error) bool {
	switch e.Code {
	case CodeConflict:
		return target == tendency.ErrConflict
	case CodeNotFound:
		return target == tendency.ErrNotFound
	}
	return false
}

// Err returns a *RemoteError for a failed response, or nil.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	msg := r.Error
	if msg == "" {
		msg = "daemon returned failure"
	}
	return &RemoteError{Code: r.Code, Message: msg}
}

// IsValidation reports whether err is a validation failure from the daemon.
func IsValidation(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == CodeValidation
}
