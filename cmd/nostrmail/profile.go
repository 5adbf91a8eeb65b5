package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/nostrmail/nostrmail/app"
	"github.com/nostrmail/nostrmail/pkg/keys"
)

func doProfile(cCtx *cli.Context) error {
	a := getApp(cCtx)
	pub := a.Keys.PublicKey
	if u := cCtx.String("u"); u != "" {
		var err error
		if pub, err = keys.DecodePublic(u); log.Fail(err) {
			return err
		}
	}
	fields, err := a.FetchProfile(cCtx.Context, pub)
	if log.Fail(err) {
		return err
	}
	if cCtx.Bool("json") {
		return json.NewEncoder(os.Stdout).Encode(fields)
	}
	npub, err := keys.Npub(pub)
	if err != nil {
		npub = pub
	}
	fmt.Println(npub)
	for _, k := range fields.Keys() {
		fmt.Printf("  %s: %s\n", k, fields.Get(k))
	}
	return nil
}

func doProfileSet(cCtx *cli.Context) error {
	a := getApp(cCtx)
	if cCtx.Args().Len() != 2 {
		return fmt.Errorf("usage: profile-set [field] [value]")
	}
	field, value := cCtx.Args().Get(0), cCtx.Args().Get(1)

	fields, err := a.FetchProfile(cCtx.Context, a.Keys.PublicKey)
	if err != nil {
		log.D.F("no existing profile, starting fresh: %v", err)
		fields = nil
	}
	if fields == nil {
		fields = app.NewFields()
	}
	fields.Set(field, value)
	if err = a.PublishProfile(cCtx.Context, fields); log.Fail(err) {
		return err
	}
	fmt.Println("profile published")
	return nil
}
