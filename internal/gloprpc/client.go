package gloprpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client is a thin synchronous wrapper over one control-socket
// connection: each call writes one request line and blocks for the
// matching response line — the same exchange an operator could drive
// by hand with `nc` and a literal JSON line per call. glopctl is the
// only caller; it dials once per invocation and closes when done.
type Client struct {
	conn net.Conn
	r    *bufio.Scanner
}

// Dial opens a control-socket connection to addr.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Client{conn: conn, r: sc}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) roundTrip(req request) (response, error) {
	line, err := json.Marshal(req)
	if err != nil {
		return response{}, err
	}
	line = append(line, '\n')
	if _, err := c.conn.Write(line); err != nil {
		return response{}, err
	}
	if !c.r.Scan() {
		if err := c.r.Err(); err != nil {
			return response{}, err
		}
		return response{}, fmt.Errorf("gloprpc.Client: connection closed without a response")
	}
	var resp response
	if err := json.Unmarshal(c.r.Bytes(), &resp); err != nil {
		return response{}, err
	}
	if resp.Error != nil {
		return response{}, fmt.Errorf("%s", resp.Error.Message)
	}
	return resp, nil
}

// Add asks the supervisor to compile the glop file at source and
// register it under name.
func (c *Client) Add(source, name string) error {
	_, err := c.roundTrip(request{Add: &AddRequest{Source: source, Name: name}})
	return err
}

// Remove asks the supervisor to stop and forget name.
func (c *Client) Remove(name string) error {
	_, err := c.roundTrip(request{Remove: &RemoveRequest{Name: name}})
	return err
}

// List returns every currently-registered agent name.
func (c *Client) List() ([]string, error) {
	resp, err := c.roundTrip(request{List: &struct{}{}})
	if err != nil {
		return nil, err
	}
	if resp.List == nil {
		return nil, fmt.Errorf("gloprpc.Client: List response missing List field")
	}
	return resp.List.Names, nil
}

// SendTo delivers env to its Dst agent. An unknown destination is not
// an error — the call still succeeds.
func (c *Client) SendTo(env Envelope) error {
	_, err := c.roundTrip(request{SendTo: &env})
	return err
}
