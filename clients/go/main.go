// chatline CLI - command line client for a chatline server
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/eldtechnologies/chatline/clients/go/chatline"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("CHATLINE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client := chatline.NewClient(baseURL)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "otp":
		need(3, "Usage: chatline otp <contact>")
		exitOnError(client.SendOTP(ctx, os.Args[2]))
		fmt.Println("OTP sent")

	case "verify":
		need(4, "Usage: chatline verify <contact> <code>")
		exitOnError(client.VerifyOTP(ctx, os.Args[2], os.Args[3]))
		fmt.Println("Verified")

	case "claim":
		need(4, "Usage: chatline claim <contact> <username>")
		exitOnError(client.ClaimUsername(ctx, os.Args[2], os.Args[3]))
		fmt.Printf("You are now %s\n", os.Args[3])

	case "search":
		need(3, "Usage: chatline search <query>")
		users, err := client.Search(ctx, os.Args[2])
		exitOnError(err)
		for _, u := range users {
			fmt.Printf("  %s\n", u.Username)
		}

	case "status":
		need(3, "Usage: chatline status <username>")
		st, err := client.Status(ctx, os.Args[2])
		exitOnError(err)
		switch {
		case st.Online:
			fmt.Printf("%s is online\n", st.Username)
		case st.LastSeenAgo != "":
			fmt.Printf("%s was last seen %s\n", st.Username, st.LastSeenAgo)
		default:
			fmt.Printf("%s is offline\n", st.Username)
		}

	case "send":
		need(4, "Usage: chatline send <username> <message>")
		msg, err := client.Send(ctx, os.Args[2], os.Args[3])
		exitOnError(err)
		fmt.Printf("Sent: %s\n", msg.ID)

	case "read":
		need(3, "Usage: chatline read <username>")
		msgs, err := client.Conversation(ctx, os.Args[2])
		exitOnError(err)
		for _, m := range msgs {
			ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04:05")
			fmt.Printf("[%s] %s: %s\n", ts, m.From, m.Body)
		}
		_, err = client.MarkRead(ctx, os.Args[2])
		exitOnError(err)

	case "unread":
		summaries, err := client.Unread(ctx)
		exitOnError(err)
		for _, s := range summaries {
			fmt.Printf("  %-20s %3d  %s\n", s.Username, s.Count, s.LastMessage)
		}

	case "listen":
		rc, err := client.Connect(ctx)
		exitOnError(err)
		defer rc.Close()
		go func() {
			<-ctx.Done()
			rc.Close()
		}()
		for {
			ev, err := rc.Next()
			if err != nil {
				return
			}
			fmt.Printf("%s %s\n", ev.Event, string(ev.Data))
		}

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`chatline CLI

Usage: chatline <command> [options]

Commands:
  otp <contact>                Request a one-time code
  verify <contact> <code>      Verify the code
  claim <contact> <username>   Pick a username and save it locally
  search <query>               Find users
  status <username>            Show whether a user is online
  send <username> <message>    Store a message
  read <username>              Show a conversation and mark it read
  unread                       Show unread counts
  listen                       Stream live relay events
  health                       Check server health

Environment:
  CHATLINE_URL      Server URL (default: http://localhost:8080)
  CHATLINE_CONFIG   Config directory (default: ~/.chatline)`)
}

func need(n int, msg string) {
	if len(os.Args) < n {
		fmt.Fprintln(os.Stderr, msg)
		os.Exit(1)
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
