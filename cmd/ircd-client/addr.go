package main

import (
	"net"
	"strconv"
)

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func portOf(addr string) int {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 6667
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return 6667
	}
	return n
}
