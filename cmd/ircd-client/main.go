// Command ircd-client is a minimal smoke-test client: it connects to an
// ircfed server, registers, joins a channel, and prints everything it
// receives until interrupted. It exists to exercise the wire protocol
// end-to-end against a running server without needing a full IRC client
// installed, built on github.com/lrstanley/girc.
package main

import (
	"flag"
	"log"

	"github.com/lrstanley/girc"
)

func main() {
	addr := flag.String("addr", "localhost:6667", "host:port of the ircfed server to connect to")
	nick := flag.String("nick", "smoketest", "nickname to register as")
	channel := flag.String("channel", "#lobby", "channel to join after registering")
	flag.Parse()

	client := girc.New(girc.Config{
		Server: hostOf(*addr),
		Port:   portOf(*addr),
		Nick:   *nick,
		User:   *nick,
		Name:   "ircfed smoke test client",
	})

	client.Handlers.AddBg(girc.RPL_WELCOME, func(c *girc.Client, e girc.Event) {
		c.Cmd.Join(*channel)
	})
	client.Handlers.AddBg(girc.PRIVMSG, func(c *girc.Client, e girc.Event) {
		log.Printf("%s: %s", e.Source.Name, e.Last())
	})

	if err := client.Connect(); err != nil {
		log.Fatalf("connect: %v", err)
	}
}
