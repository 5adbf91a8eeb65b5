package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/nostrmail/nostrmail/pkg/keys"
)

func doDMList(cCtx *cli.Context) error {
	a := getApp(cCtx)
	list, err := a.Conversations.List()
	if log.Fail(err) {
		return err
	}
	if cCtx.Bool("json") {
		return json.NewEncoder(os.Stdout).Encode(list)
	}
	for _, conv := range list {
		npub, err := keys.Npub(conv.Contact)
		if err != nil {
			npub = conv.Contact
		}
		last := conv.LastMessage()
		color.Set(color.FgHiBlue)
		fmt.Print(npub)
		color.Set(color.Reset)
		fmt.Printf(" (%d messages)\n", len(conv.Messages))
		if last != nil {
			fmt.Printf("  %s: %s\n", last.CreatedAt.Format("2006-01-02 15:04"),
				oneline(last.Content))
		}
	}
	return nil
}

func doDMTimeline(cCtx *cli.Context) error {
	a := getApp(cCtx)
	pub, err := keys.DecodePublic(cCtx.String("u"))
	if log.Fail(err) {
		return err
	}
	conv, err := a.Conversations.Load(cCtx.Context, pub)
	if log.Fail(err) {
		return err
	}
	if cCtx.Bool("json") {
		return json.NewEncoder(os.Stdout).Encode(conv)
	}
	for _, m := range conv.Messages {
		if m.Direction == "sent" {
			color.Set(color.FgHiRed)
			fmt.Print("me")
		} else {
			color.Set(color.FgHiBlue)
			fmt.Print("them")
		}
		color.Set(color.Reset)
		switch {
		case m.DecryptFailed:
			fmt.Printf(" %s: (cannot decrypt)\n", m.CreatedAt.Format("15:04"))
		case m.ID.Pending():
			fmt.Printf(" %s: %s (pending)\n", m.CreatedAt.Format("15:04"), m.Content)
		case !m.Confirmed:
			fmt.Printf(" %s: %s (unconfirmed)\n", m.CreatedAt.Format("15:04"), m.Content)
		default:
			fmt.Printf(" %s: %s\n", m.CreatedAt.Format("15:04"), m.Content)
		}
	}
	return nil
}

func doDMSend(cCtx *cli.Context) error {
	a := getApp(cCtx)
	pub, err := keys.DecodePublic(cCtx.String("u"))
	if log.Fail(err) {
		return err
	}
	text, err := argOrStdin(cCtx)
	if log.Fail(err) {
		return err
	}
	id, err := a.Conversations.Send(cCtx.Context, pub, text)
	if log.Fail(err) {
		return err
	}
	fmt.Println("event:", id.Event)
	if err = a.Conversations.AwaitConfirmation(cCtx.Context, pub, id.Event); err != nil {
		log.W.F("sent but not yet observed on any relay: %v", err)
		return nil
	}
	fmt.Println("confirmed")
	return nil
}

func argOrStdin(cCtx *cli.Context) (string, error) {
	if cCtx.Bool("stdin") {
		var b strings.Builder
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			b.WriteString(sc.Text())
			b.WriteString("\n")
		}
		return strings.TrimSpace(b.String()), sc.Err()
	}
	text := strings.Join(cCtx.Args().Slice(), " ")
	if text == "" {
		return "", fmt.Errorf("empty message")
	}
	return text, nil
}

func oneline(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 70 {
		return s[:70] + "..."
	}
	return s
}
