package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/nostrmail/nostrmail/app"
	"github.com/nostrmail/nostrmail/pkg/keys"
)

func doContactsSync(cCtx *cli.Context) error {
	a := getApp(cCtx)
	contacts, err := a.Contacts.Sync(cCtx.Context)
	if errors.Is(err, app.ErrSyncAborted) {
		fmt.Println("nothing fetched, local contacts unchanged")
		return nil
	}
	if log.Fail(err) {
		return err
	}
	if cCtx.Bool("avatars") {
		err = a.Images.LoadAvatars(cCtx.Context, contacts, nil)
		log.Fail(err)
	}
	fmt.Printf("%d contacts\n", len(contacts))
	return nil
}

func doContactsList(cCtx *cli.Context) error {
	a := getApp(cCtx)
	contacts, err := a.Contacts.Cached()
	if log.Fail(err) {
		return err
	}
	if cCtx.Bool("json") {
		return json.NewEncoder(os.Stdout).Encode(contacts)
	}
	for _, c := range contacts {
		npub, err := keys.Npub(c.Pubkey)
		if err != nil {
			npub = c.Pubkey
		}
		if c.Privacy == app.PrivacyPrivate {
			color.Set(color.FgYellow)
		} else {
			color.Set(color.FgHiBlue)
		}
		fmt.Print(c.Name())
		color.Set(color.Reset)
		fmt.Printf(" %s [%s]\n", npub, c.Privacy)
	}
	return nil
}

func doContactsPublish(cCtx *cli.Context) error {
	a := getApp(cCtx)
	if err := a.Contacts.PublishFollowList(cCtx.Context); log.Fail(err) {
		return err
	}
	fmt.Println("follow list published")
	return nil
}
