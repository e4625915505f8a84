// Terminal client for chatd. Speaks the command protocol over the websocket
// gateway; useful for poking at a running server.
//
//	/create <direct|group> <user,user,...>
//	/join <channel_id>
//	/leave <channel_id>
//	/hb <online|offline>
//	/send <channel_id> <text>
//	<text>            sends to the channel last joined or set with -channel
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mahaj/chatcore/pkg/gateway"
	"github.com/mahaj/chatcore/pkg/model"
)

func sendCommand(c *websocket.Conn, cmdType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(gateway.Command{Type: cmdType, Payload: raw})
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "chatd address")
	userID := flag.String("user", "user1", "user id")
	token := flag.String("token", "", "bearer token (overrides -user)")
	channelID := flag.String("channel", "", "default channel id for plain text input")
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	q := u.Query()
	header := http.Header{}
	if *token != "" {
		header.Add("Authorization", "Bearer "+*token)
	} else {
		q.Set("user_id", *userID)
	}
	u.RawQuery = q.Encode()
	log.Printf("connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return
			}

			var evt gateway.Event
			if err := json.Unmarshal(message, &evt); err != nil {
				fmt.Printf("\rreceived raw: %s\n> ", message)
				continue
			}
			payload, _ := json.Marshal(evt.Payload)
			fmt.Printf("\r[%s] %s\n> ", evt.Type, payload)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		// Announce ourselves so presence sees us before the first message.
		if err := sendCommand(c, gateway.CmdHeartbeat, gateway.HeartbeatPayload{UserID: *userID, Status: model.StatusOnline}); err != nil {
			log.Println("write:", err)
		}

		currentChannel := *channelID
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				fmt.Print("> ")
				continue
			}
			if text == "/quit" {
				close(interrupt)
				break
			}

			var err error
			switch fields := strings.Fields(text); fields[0] {
			case "/create":
				if len(fields) != 3 {
					fmt.Print("usage: /create <direct|group> <user,user,...>\n> ")
					continue
				}
				err = sendCommand(c, gateway.CmdCreateChannel, gateway.CreateChannelPayload{
					ChannelType: model.ChannelType(fields[1]),
					MemberIDs:   strings.Split(fields[2], ","),
				})
			case "/join":
				if len(fields) != 2 {
					fmt.Print("usage: /join <channel_id>\n> ")
					continue
				}
				currentChannel = fields[1]
				err = sendCommand(c, gateway.CmdJoinChannel, gateway.ChannelRefPayload{ChannelID: fields[1]})
			case "/leave":
				if len(fields) != 2 {
					fmt.Print("usage: /leave <channel_id>\n> ")
					continue
				}
				err = sendCommand(c, gateway.CmdLeaveChannel, gateway.ChannelRefPayload{ChannelID: fields[1]})
			case "/hb":
				if len(fields) != 2 {
					fmt.Print("usage: /hb <online|offline>\n> ")
					continue
				}
				err = sendCommand(c, gateway.CmdHeartbeat, gateway.HeartbeatPayload{
					UserID: *userID,
					Status: model.PresenceStatus(fields[1]),
				})
			case "/send":
				if len(fields) < 3 {
					fmt.Print("usage: /send <channel_id> <text>\n> ")
					continue
				}
				err = sendCommand(c, gateway.CmdSendMessage, gateway.SendMessagePayload{
					ChannelID:       fields[1],
					Body:            strings.Join(fields[2:], " "),
					ClientMessageID: uuid.NewString(),
				})
			default:
				if currentChannel == "" {
					fmt.Print("no channel set, use /join or /send\n> ")
					continue
				}
				err = sendCommand(c, gateway.CmdSendMessage, gateway.SendMessagePayload{
					ChannelID:       currentChannel,
					Body:            text,
					ClientMessageID: uuid.NewString(),
				})
			}
			if err != nil {
				log.Println("write:", err)
				break
			}
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("interrupt")

			// Cleanly close the connection by sending a close message and then
			// waiting (with timeout) for the server to close the connection.
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("write close:", err)
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
