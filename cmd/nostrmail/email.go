package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/nostrmail/nostrmail/pkg/keys"
)

func doEmailSend(cCtx *cli.Context) error {
	a := getApp(cCtx)
	if a.Bridge == nil {
		return fmt.Errorf("no smtp section in the config, cannot send mail")
	}
	pub, err := keys.DecodePublic(cCtx.String("u"))
	if log.Fail(err) {
		return err
	}
	body, err := argOrStdin(cCtx)
	if log.Fail(err) {
		return err
	}
	sent, err := a.Bridge.SendEncryptedEmail(cCtx.Context, pub,
		cCtx.String("to"), cCtx.String("subject"), body)
	if log.Fail(err) {
		return err
	}
	fmt.Println("anchor event:", sent.EventID)
	return nil
}

func doEmailVerify(cCtx *cli.Context) error {
	a := getApp(cCtx)
	if a.Bridge == nil {
		return fmt.Errorf("no smtp section in the config, cannot verify mail")
	}
	got, err := a.Bridge.VerifyInboundEmail(cCtx.Context, cCtx.String("id"))
	if log.Fail(err) {
		return err
	}
	npub, err := keys.Npub(got.Sender)
	if err != nil {
		npub = got.Sender
	}
	fmt.Println("sender:", npub)
	if got.Subject != "" {
		fmt.Println("subject:", got.Subject)
	}
	if got.Linked {
		color.Set(color.FgHiGreen)
		fmt.Println("verified: email and event are linked")
		color.Set(color.Reset)
		fmt.Println(got.Body)
		return nil
	}
	color.Set(color.FgYellow)
	fmt.Println("no linked email found, treat as unauthenticated")
	color.Set(color.Reset)
	return nil
}
