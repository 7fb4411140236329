package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/commucat/client-go/engine"
	"github.com/commucat/client-go/media"
	"github.com/commucat/client-go/proto"
)

func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect to the server and chat interactively",
		Long: `Connect to the server and enter an interactive console. Commands:

  /join <channel> [member ...]   open a channel with the given members
  /msg <channel> <text>          send a message
  /leave <channel>               leave a channel
  /presence <state>              update presence (online, away, ...)
  /quit                          disconnect and exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := loadProfile()
			if err != nil {
				return err
			}

			eng := engine.New(8, 64)
			defer eng.Close()

			done := make(chan struct{})
			go printEvents(eng.Events(), done)

			if err := eng.Send(engine.Connect{Profile: profile}); err != nil {
				return err
			}

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "/quit" {
					break
				}
				if err := dispatch(eng, line); err != nil {
					fmt.Printf("! %s\n", err)
				}
			}

			eng.Send(engine.Disconnect{})
			eng.Close()
			<-done
			return scanner.Err()
		},
	}
}

// dispatch turns one console line into an engine command.
func dispatch(eng *engine.Engine, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/join":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /join <channel> [member ...]")
		}
		channel, err := parseChannel(fields[1])
		if err != nil {
			return err
		}
		return eng.Send(engine.Join{ChannelID: channel, Members: fields[2:], Relay: true})
	case "/msg":
		if len(fields) < 3 {
			return fmt.Errorf("usage: /msg <channel> <text>")
		}
		channel, err := parseChannel(fields[1])
		if err != nil {
			return err
		}
		body := strings.Join(fields[2:], " ")
		return eng.Send(engine.SendMessage{ChannelID: channel, Body: []byte(body)})
	case "/leave":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /leave <channel>")
		}
		channel, err := parseChannel(fields[1])
		if err != nil {
			return err
		}
		return eng.Send(engine.Leave{ChannelID: channel})
	case "/presence":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /presence <state>")
		}
		return eng.Send(engine.Presence{State: fields[1]})
	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
}

func parseChannel(value string) (uint64, error) {
	channel, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad channel id %q", value)
	}
	return channel, nil
}

// printEvents renders the engine's event stream until it closes.
func printEvents(events <-chan engine.Event, done chan<- struct{}) {
	defer close(done)
	for event := range events {
		switch event := event.(type) {
		case engine.Connected:
			fmt.Printf("* connected, session %s\n", event.SessionID)
			if event.PairingRequired {
				fmt.Println("* server requires pairing: run 'commucat pair' on an approved device")
			}
		case engine.Disconnected:
			fmt.Printf("* disconnected: %s\n", event.Reason)
		case engine.FrameEvent:
			printFrame(event.Frame)
		case engine.ErrorEvent:
			fmt.Printf("! %s\n", event.Detail)
		case engine.LogEvent:
			fmt.Printf("- %s\n", event.Line)
		}
	}
}

func printFrame(frame proto.Frame) {
	switch frame.Type {
	case proto.FrameMsg:
		if voice, err := media.DecodeVoiceMessage(frame.Payload.Opaque); err == nil {
			fmt.Printf("[ch %d] voice message, %d frames, %dms\n",
				frame.ChannelID, len(voice.Frames), voice.Duration)
			return
		}
		fmt.Printf("[ch %d] %s\n", frame.ChannelID, frame.Payload.Opaque)
	case proto.FramePresence:
		state, _ := frame.Payload.Control.GetString("state")
		entity, _ := frame.Payload.Control.GetString("entity")
		fmt.Printf("* presence %s %s\n", entity, state)
	case proto.FrameVoice:
		fmt.Printf("[ch %d] voice frame, %d bytes\n", frame.ChannelID, len(frame.Payload.Opaque))
	default:
		fmt.Printf("[ch %d] %s seq=%d\n", frame.ChannelID, frame.Type, frame.Sequence)
	}
}
