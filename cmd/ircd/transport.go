package main

import (
	"bufio"
	"net"

	"github.com/robustirc/ircfed/internal/session"
)

// netTransport adapts a net.Conn to session.Transport, grounded on the
// teacher's own convention of wrapping net.Conn with a buffered
// line-oriented reader (see internal/ircserver's use of bufio.Scanner in
// its test harnesses) rather than reimplementing buffering by hand.
type netTransport struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newNetTransport(conn net.Conn) *netTransport {
	return &netTransport{conn: conn, reader: bufio.NewReaderSize(conn, 4096)}
}

func (t *netTransport) ReadLine() (string, error) {
	line, err := t.reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return line, nil
}

func (t *netTransport) WriteLine(line string) error {
	_, err := t.conn.Write([]byte(line + "\r\n"))
	return err
}

func (t *netTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *netTransport) Close() error {
	return t.conn.Close()
}

// tcpDialer implements federation.Dialer over net.Dial.
type tcpDialer struct{}

func (tcpDialer) Dial(address string) (session.Transport, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, err
	}
	return newNetTransport(conn), nil
}
