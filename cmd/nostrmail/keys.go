package main

import (
	"fmt"
	"os"

	"github.com/mdp/qrterminal/v3"
	"github.com/urfave/cli/v2"

	"github.com/nostrmail/nostrmail/pkg/keys"
)

func doGen(_ *cli.Context) error {
	sk := keys.Generate()
	pub, err := keys.PublicKey(sk)
	if log.Fail(err) {
		return err
	}
	nsec, err := keys.Nsec(sk)
	if log.Fail(err) {
		return err
	}
	npub, err := keys.Npub(pub)
	if log.Fail(err) {
		return err
	}
	fmt.Println("nsec:", nsec)
	fmt.Println("npub:", npub)
	return nil
}

func doQR(cCtx *cli.Context) error {
	npub, err := keys.Npub(getApp(cCtx).Keys.PublicKey)
	if log.Fail(err) {
		return err
	}
	fmt.Println(npub)
	qrterminal.GenerateWithConfig("nostr:"+npub, qrterminal.Config{
		Writer:     os.Stdout,
		Level:      qrterminal.L,
		HalfBlocks: false,
		WhiteChar:  qrterminal.WHITE,
		BlackChar:  qrterminal.BLACK,
		QuietZone:  2,
	})
	return nil
}
