// parley-bot is a headless utility client. It signs in with a bot
// account, waits to be invited into channels, greets members who join,
// and answers messages that mention its username with a canned reply.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/parley-chat/parley/pkg/client"
	"github.com/parley-chat/parley/pkg/protocol"
)

var cannedReplies = []string{
	"I'm just a bot, but I'm listening.",
	"Noted. Anything else?",
	"That's above my pay grade.",
	"Interesting. Tell me more.",
	"Beep boop. Message received.",
}

type bot struct {
	conn     *client.Connection
	replica  *client.Replica
	username string
}

func main() {
	serverAddr := flag.String("server", "localhost:7475", "Server address (host[:port], ws://, or wss://)")
	username := flag.String("username", "parleybot", "Bot account name")
	password := flag.String("password", "", "Bot account password")
	register := flag.Bool("register", false, "Register the account on first run")
	flag.Parse()

	if *password == "" {
		log.Fatal("A -password is required")
	}

	conn, err := client.NewConnection(*serverAddr)
	if err != nil {
		log.Fatalf("Invalid server address: %v", err)
	}
	defer conn.Close()

	if err := conn.Connect(); err != nil {
		log.Fatalf("Failed to connect to %s: %v", *serverAddr, err)
	}

	b := &bot{
		conn:     conn,
		replica:  client.NewReplica(),
		username: *username,
	}
	b.login(*username, *password, *register)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("parley-bot connected to %s as %s", *serverAddr, *username)

	for {
		select {
		case frame, ok := <-conn.Incoming():
			if !ok {
				log.Fatal("Connection closed")
			}
			b.handleFrame(frame)
		case err := <-conn.Errors():
			log.Printf("connection error: %v", err)
		case update := <-conn.StateChanges():
			if update.State == client.StateTypeConnected {
				// Reconnected; re-authenticate to restore the session.
				b.login(*username, *password, false)
			}
		case <-sigCh:
			log.Printf("Shutting down")
			b.send(protocol.TypeStatusUpdate, &protocol.StatusUpdateEvent{Status: protocol.StatusOffline})
			return
		}
	}
}

func (b *bot) login(username, password string, register bool) {
	b.send(protocol.TypeLogin, &protocol.LoginEvent{
		Username: username,
		Password: password,
		Register: register,
	})
}

func (b *bot) send(eventType uint8, evt protocol.Event) {
	if err := b.conn.SendEvent(eventType, evt); err != nil {
		log.Printf("send %s failed: %v", protocol.EventName(eventType), err)
	}
}

func (b *bot) handleFrame(frame *protocol.Frame) {
	// Peek at the events we react to before folding them into the replica.
	switch frame.Type {
	case protocol.TypeLoginFailed:
		var evt protocol.LoginFailedEvent
		if err := evt.Decode(frame.Payload); err == nil {
			log.Fatalf("Login failed: %s", evt.Reason)
		}

	case protocol.TypeMemberAdded:
		var evt protocol.MemberAddedEvent
		if err := evt.Decode(frame.Payload); err == nil {
			b.greet(evt)
		}

	case protocol.TypeMessagePosted:
		var evt protocol.MessagePostedEvent
		if err := evt.Decode(frame.Payload); err == nil {
			b.maybeReply(evt.Message)
		}
	}

	if err := b.replica.Apply(frame); err != nil {
		log.Printf("failed to apply %s: %v", protocol.EventName(frame.Type), err)
	}
}

// greet welcomes whoever just joined, including the bot itself
func (b *bot) greet(evt protocol.MemberAddedEvent) {
	var body string
	if evt.Username == b.username {
		body = fmt.Sprintf("Hello! I'm %s. Mention my name and I'll answer.", b.username)
	} else {
		body = fmt.Sprintf("Welcome, %s!", evt.Username)
	}
	b.send(protocol.TypeMessageSend, &protocol.MessageSendEvent{
		ChannelID: evt.Channel.ID,
		Body:      body,
	})
}

// maybeReply answers messages that mention the bot's name
func (b *bot) maybeReply(msg protocol.Message) {
	if msg.Sender == b.username {
		return
	}
	if !strings.Contains(strings.ToLower(msg.Body), strings.ToLower(b.username)) {
		return
	}
	reply := cannedReplies[rand.Intn(len(cannedReplies))]
	b.send(protocol.TypeMessageSend, &protocol.MessageSendEvent{
		ChannelID: msg.ChannelID,
		Body:      fmt.Sprintf("@%s %s", msg.Sender, reply),
	})
}
