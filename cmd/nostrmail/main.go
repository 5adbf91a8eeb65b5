package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/nostrmail/nostrmail/app"
	log2 "github.com/nostrmail/nostrmail/pkg/log"
	"github.com/nostrmail/nostrmail/pkg/mail"
	"github.com/nostrmail/nostrmail/pkg/relay"
	"github.com/nostrmail/nostrmail/pkg/store"
)

var log = log2.GetStd()

const name = "nostrmail"

const version = "0.1.0"

var revision = "HEAD"

type runtimeState struct {
	cfg *app.Config
	app *app.App
	st  *store.Store
}

func getState(cCtx *cli.Context) *runtimeState {
	return cCtx.App.Metadata["state"].(*runtimeState)
}

func getApp(cCtx *cli.Context) *app.App {
	return getState(cCtx).app
}

func doVersion(_ *cli.Context) error {
	fmt.Println(version)
	return nil
}

func main() {
	cliApp := &cli.App{
		Name:        name,
		Usage:       "encrypted mail over nostr",
		Description: "replicates encrypted email through nostr direct messages",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "a", Usage: "profile name"},
			&cli.StringFlag{Name: "relays", Usage: "comma separated relay URLs, overrides config"},
			&cli.BoolFlag{Name: "V", Usage: "verbose"},
		},
		Commands: []*cli.Command{
			{
				Name:      "gen",
				Usage:     "generate a new keypair",
				UsageText: "nostrmail gen",
				HelpName:  "gen",
				Action:    doGen,
			},
			{
				Name:      "qr",
				Usage:     "print our npub as a QR code",
				UsageText: "nostrmail qr",
				HelpName:  "qr",
				Action:    doQR,
			},
			{
				Name:  "dm-list",
				Usage: "show conversations, newest first",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "output JSON"},
				},
				Action: doDMList,
			},
			{
				Name:  "dm-timeline",
				Usage: "show the conversation with a user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "u", Usage: "user (npub or hex)", Required: true},
					&cli.BoolFlag{Name: "json", Usage: "output JSON"},
				},
				Action: doDMTimeline,
			},
			{
				Name: "dm-send",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "u", Usage: "user (npub or hex)", Required: true},
					&cli.BoolFlag{Name: "stdin"},
				},
				Usage:     "send an encrypted DM",
				UsageText: "nostrmail dm-send -u [npub] [message]",
				HelpName:  "dm-send",
				ArgsUsage: "[message]",
				Action:    doDMSend,
			},
			{
				Name:      "contacts-sync",
				Usage:     "merge the published follow list into the local contacts",
				UsageText: "nostrmail contacts-sync",
				HelpName:  "contacts-sync",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "avatars", Usage: "also download avatars"},
				},
				Action: doContactsSync,
			},
			{
				Name:  "contacts-list",
				Usage: "show the local contact set",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "output JSON"},
				},
				Action: doContactsList,
			},
			{
				Name:      "contacts-publish",
				Usage:     "publish the public contacts as the follow list",
				UsageText: "nostrmail contacts-publish",
				HelpName:  "contacts-publish",
				Action:    doContactsPublish,
			},
			{
				Name: "email-send",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "u", Usage: "recipient (npub or hex)", Required: true},
					&cli.StringFlag{Name: "to", Usage: "recipient email address", Required: true},
					&cli.StringFlag{Name: "subject", Required: true},
					&cli.BoolFlag{Name: "stdin"},
				},
				Usage:     "send an encrypted, relay-anchored email",
				UsageText: "nostrmail email-send -u [npub] --to [addr] --subject [s] [body]",
				HelpName:  "email-send",
				ArgsUsage: "[body]",
				Action:    doEmailSend,
			},
			{
				Name: "email-verify",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "anchor event id", Required: true},
				},
				Usage:     "verify a received email against its anchor event",
				UsageText: "nostrmail email-verify --id [event id]",
				HelpName:  "email-verify",
				Action:    doEmailVerify,
			},
			{
				Name:  "profile",
				Usage: "show a profile",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "u", Usage: "user (npub or hex), default self"},
					&cli.BoolFlag{Name: "json", Usage: "output JSON"},
				},
				Action: doProfile,
			},
			{
				Name:      "profile-set",
				Usage:     "update a field of our profile and publish it",
				UsageText: "nostrmail profile-set [field] [value]",
				HelpName:  "profile-set",
				ArgsUsage: "[field] [value]",
				Action:    doProfileSet,
			},
			{
				Name:   "relay-list",
				Usage:  "show configured relays",
				Action: doRelayList,
			},
			{
				Name:      "relay-enable",
				Usage:     "enable a relay",
				UsageText: "nostrmail relay-enable [url]",
				HelpName:  "relay-enable",
				ArgsUsage: "[url]",
				Action:    doRelayEnable,
			},
			{
				Name:      "relay-disable",
				Usage:     "disable a relay",
				UsageText: "nostrmail relay-disable [url]",
				HelpName:  "relay-disable",
				ArgsUsage: "[url]",
				Action:    doRelayDisable,
			},
			{
				Name:      "version",
				Usage:     "show version",
				UsageText: "nostrmail version",
				HelpName:  "version",
				Action:    doVersion,
			},
		},
		Before: func(cCtx *cli.Context) error {
			switch cCtx.Args().Get(0) {
			case "version", "gen", "":
				return nil
			}
			if cCtx.Bool("V") {
				log2.SetLogLevel(log2.Debug)
			}
			cfg, err := app.LoadConfig(cCtx.String("a"))
			if log.Fail(err) {
				return err
			}
			if relays := strings.TrimSpace(cCtx.String("relays")); relays != "" {
				cfg.Relays = map[string]*relay.Perms{}
				for _, u := range strings.Split(relays, ",") {
					cfg.Relays[u] = &relay.Perms{Read: true, Write: true, Enabled: true}
				}
			}
			ks, err := app.NewKeyState(cfg.PrivateKey)
			if log.Fail(err) {
				return err
			}
			st, err := store.Open(cfg.StoreDir())
			if log.Fail(err) {
				return err
			}
			var mailer mail.Mailer
			if cfg.SMTP != nil {
				mailer = &cliMailer{sender: &mail.SMTPSender{Config: *cfg.SMTP}}
			}
			cCtx.App.Metadata = map[string]any{
				"state": &runtimeState{
					cfg: cfg,
					app: app.New(ks, cfg.NewRelayClient(), st, mailer),
					st:  st,
				},
			}
			return nil
		},
		After: func(cCtx *cli.Context) error {
			if s, ok := cCtx.App.Metadata["state"].(*runtimeState); ok && s.st != nil {
				log.Fail(s.st.Close())
			}
			return nil
		},
	}

	if err := cliApp.Run(os.Args); log.Fail(err) {
		os.Exit(1)
	}
}

// cliMailer sends through SMTP; searching a remote mailbox is not
// wired from the CLI, so verification reports the subject only.
type cliMailer struct {
	sender mail.Sender
}

func (m *cliMailer) SendMail(to, subject, body string) error {
	return m.sender.SendMail(to, subject, body)
}

func (m *cliMailer) SearchBySubject(string) (*mail.Message, error) {
	return nil, mail.ErrNoMatch
}
